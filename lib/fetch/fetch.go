// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch streams URLs into Pandora's tmp directory while
// computing their SHA-256 digest in the same pass. The digest is the
// integrity anchor for everything downstream: a caller gets a digest
// back only when the whole body arrived, so "file exists at the
// returned path" always means "digest describes exactly those bytes".
//
// Local filesystem paths go through the same interface, so the
// registry client can consume an index from disk or over HTTP without
// caring which.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/pandora/lib/digest"
)

// ErrFetchFailed is wrapped for any transport failure: unresolvable
// host, connect, TLS, HTTP error status, transfer truncation, or a
// local read failure.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher downloads URLs into a tmp directory. Safe for use by a
// single process; concurrent fetches get distinct temp files.
type Fetcher struct {
	tmpDir string
	client *Client
}

// NewFetcher creates a fetcher writing temp files under tmpDir. A nil
// client gets the default resilient client.
func NewFetcher(tmpDir string, client *Client) *Fetcher {
	if client == nil {
		client = NewClient()
	}
	return &Fetcher{tmpDir: tmpDir, client: client}
}

// Fetch streams the URL's body to a uniquely named file under the
// fetcher's tmp directory and returns the file path and the SHA-256
// digest of the bytes written. On any failure the partial file is
// deleted and no digest is returned. Failures to open or stream the
// source wrap [ErrFetchFailed]; failures to create or close the local
// temp file are returned as wrapped OS errors.
//
// http and https URLs go over the network; anything else is treated
// as a local filesystem path and copied through the same tee.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, digest.Digest, error) {
	body, err := f.open(ctx, rawURL)
	if err != nil {
		return "", digest.Digest{}, err
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp(f.tmpDir, "fetch-*.part")
	if err != nil {
		return "", digest.Digest{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hasher := digest.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), body); err != nil {
		tmpFile.Close()
		return "", digest.Digest{}, fmt.Errorf("%w: streaming %s: %v", ErrFetchFailed, rawURL, err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", digest.Digest{}, fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	success = true
	return tmpPath, hasher.Sum(), nil
}

// FetchBytes is the in-memory form for small documents (indexes,
// manifests): the body lands in memory instead of a temp file, with
// the same whole-body-or-error contract.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, digest.Digest, error) {
	body, err := f.open(ctx, rawURL)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, digest.Digest{}, fmt.Errorf("%w: reading %s: %v", ErrFetchFailed, rawURL, err)
	}
	return data, digest.Sum(data), nil
}

func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if isHTTP(rawURL) {
		return f.openHTTP(ctx, rawURL)
	}

	file, err := os.Open(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: opening local %s: %v", ErrFetchFailed, rawURL, err)
	}
	return file, nil
}

func (f *Fetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrFetchFailed, rawURL, err)
	}
	req.Header.Set("User-Agent", "pandora/1")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailed, rawURL, resp.Status)
	}
	return resp.Body, nil
}

func isHTTP(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

// IsRemote reports whether the fetcher would go over the network for
// this URL rather than the local filesystem.
func IsRemote(rawURL string) bool {
	return isHTTP(rawURL)
}

// CleanPartials removes leftover fetch temp files under tmpDir older
// than the given age. Partials are owned by the process that created
// them until it exits; the age guard keeps a sweep from destroying a
// concurrent process's in-flight download.
func CleanPartials(tmpDir string, olderThan func(os.FileInfo) bool) error {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", tmpDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "fetch-") || !strings.HasSuffix(name, ".part") {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if olderThan(info) {
			os.Remove(filepath.Join(tmpDir, name))
		}
	}
	return nil
}
