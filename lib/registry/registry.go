// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry resolves (name, version) pairs against a package
// index: index → manifest URL → package URL plus expected digest. The
// index and manifests are .acl configuration blocks fetched over HTTP
// or read from local paths; the client caches the parsed index.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/pandora/lib/acl"
	"github.com/bureau-foundation/pandora/lib/fetch"
)

// ErrNotFound is wrapped when a package or version is absent from the
// index.
var ErrNotFound = errors.New("package not found in index")

// ErrNoIndex is returned when an index operation runs before SetIndex.
var ErrNoIndex = errors.New("no index URL configured")

// Client fetches and caches the registry index and fetches manifests.
// The client owns the cached index; callers must treat the returned
// Block as read-only.
type Client struct {
	fetcher  *fetch.Fetcher
	indexURL string
	index    *acl.Block
}

// NewClient creates a registry client using the given fetcher for all
// downloads.
func NewClient(fetcher *fetch.Fetcher) *Client {
	return &Client{fetcher: fetcher}
}

// SetIndex records the index URL (http/https or a local path) and
// drops any cached parse of a previous index.
func (c *Client) SetIndex(url string) {
	c.indexURL = url
	c.index = nil
}

// IndexURL returns the configured index URL.
func (c *Client) IndexURL() string {
	return c.indexURL
}

// FetchIndex fetches and parses the index, resolving internal
// references, and caches the parsed tree. Subsequent calls return the
// cache; call SetIndex to invalidate.
func (c *Client) FetchIndex(ctx context.Context) (*acl.Block, error) {
	if c.index != nil {
		return c.index, nil
	}
	if c.indexURL == "" {
		return nil, ErrNoIndex
	}

	data, _, err := c.fetcher.FetchBytes(ctx, c.indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetching index %s: %w", c.indexURL, err)
	}
	block, err := acl.ParseString(string(data))
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", c.indexURL, err)
	}
	if err := block.Resolve(); err != nil {
		return nil, fmt.Errorf("index %s: %w", c.indexURL, err)
	}

	c.index = block
	return block, nil
}

// FetchManifest fetches and parses a manifest block. The raw document
// bytes come back alongside the parse so the caller can verify a
// detached signature over exactly what was fetched. The caller owns
// the returned block.
func (c *Client) FetchManifest(ctx context.Context, url string) (*acl.Block, []byte, error) {
	data, _, err := c.fetcher.FetchBytes(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching manifest %s: %w", url, err)
	}
	block, err := acl.ParseString(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("manifest %s: %w", url, err)
	}
	if err := block.Resolve(); err != nil {
		return nil, nil, fmt.Errorf("manifest %s: %w", url, err)
	}
	return block, data, nil
}

// FindManifestURL looks up the manifest URL for (name, version) by
// trying, in order:
//
//	Registry.Package["N"].Version["V"].manifest_url
//	Package["N"].Version["V"].manifest_url
//	Registry.Package["N"].manifest_url_V
//	Package["N"].manifest_url_V
//
// The first hit wins; a complete miss wraps [ErrNotFound].
func FindManifestURL(index *acl.Block, name, version string) (string, error) {
	return findURL(index, name, version, "manifest_url", false)
}

// FindPkgURL looks up the package URL for (name, version) with the
// same path sequence as [FindManifestURL] (for the pkg_url key), plus
// a final fallback that constructs "<pkg_base_url>/<V>/<N>-<V>.pkg"
// from a per-package base URL.
func FindPkgURL(index *acl.Block, name, version string) (string, error) {
	return findURL(index, name, version, "pkg_url", true)
}

func findURL(index *acl.Block, name, version, key string, baseFallback bool) (string, error) {
	paths := []string{
		fmt.Sprintf("Registry.Package[%q].Version[%q].%s", name, version, key),
		fmt.Sprintf("Package[%q].Version[%q].%s", name, version, key),
		fmt.Sprintf("Registry.Package[%q].%s_%s", name, key, version),
		fmt.Sprintf("Package[%q].%s_%s", name, key, version),
	}
	for _, path := range paths {
		value, err := index.GetString(path)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, acl.ErrKeyNotFound) {
			return "", fmt.Errorf("index lookup %s: %w", path, err)
		}
	}

	if baseFallback {
		basePaths := []string{
			fmt.Sprintf("Registry.Package[%q].pkg_base_url", name),
			fmt.Sprintf("Package[%q].pkg_base_url", name),
		}
		for _, path := range basePaths {
			base, err := index.GetString(path)
			if err == nil {
				return fmt.Sprintf("%s/%s/%s-%s.pkg", base, version, name, version), nil
			}
			if !errors.Is(err, acl.ErrKeyNotFound) {
				return "", fmt.Errorf("index lookup %s: %w", path, err)
			}
		}
	}

	return "", fmt.Errorf("%w: %s@%s (%s)", ErrNotFound, name, version, key)
}
