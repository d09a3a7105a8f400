// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/pandora/lib/acl"
	"github.com/bureau-foundation/pandora/lib/digest"
	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// ErrBadManifest is wrapped when a manifest block is missing required
// fields or carries malformed values.
var ErrBadManifest = errors.New("malformed manifest")

// Manifest is the typed view of one package version's manifest block.
type Manifest struct {
	Ref    pkgref.Ref
	SHA256 digest.Digest

	// PkgURL is the package URL the manifest itself names. May be
	// empty; the index lookup is the fallback.
	PkgURL string

	// Deps lists exact-pair dependencies, in manifest order.
	Deps []pkgref.Ref
}

// ParseManifest extracts the recognized keys from a manifest block:
// Manifest.name, Manifest.version, Manifest.sha256, an optional
// Manifest.pkg_url, and an optional Manifest.deps list of
// name@version specs.
func ParseManifest(block *acl.Block) (*Manifest, error) {
	name, err := block.GetString("Manifest.name")
	if err != nil {
		return nil, fmt.Errorf("%w: name: %v", ErrBadManifest, err)
	}
	version, err := block.GetString("Manifest.version")
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrBadManifest, err)
	}
	ref, err := pkgref.New(name, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}

	shaHex, err := block.GetString("Manifest.sha256")
	if err != nil {
		return nil, fmt.Errorf("%w: sha256: %v", ErrBadManifest, err)
	}
	sha, err := digest.Parse(shaHex)
	if err != nil {
		return nil, fmt.Errorf("%w: sha256: %v", ErrBadManifest, err)
	}

	manifest := &Manifest{Ref: ref, SHA256: sha}

	if pkgURL, err := block.GetString("Manifest.pkg_url"); err == nil {
		manifest.PkgURL = pkgURL
	} else if !errors.Is(err, acl.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: pkg_url: %v", ErrBadManifest, err)
	}

	deps, err := parseDeps(block)
	if err != nil {
		return nil, err
	}
	manifest.Deps = deps
	return manifest, nil
}

func parseDeps(block *acl.Block) ([]pkgref.Ref, error) {
	var deps []pkgref.Ref
	for i := 0; ; i++ {
		spec, err := block.GetString(fmt.Sprintf("Manifest.deps[%d]", i))
		if errors.Is(err, acl.ErrKeyNotFound) {
			// Either no deps list at all or the end of it.
			return deps, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: deps[%d]: %v", ErrBadManifest, i, err)
		}
		ref, err := pkgref.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: deps[%d] %q: %v", ErrBadManifest, i, spec, err)
		}
		deps = append(deps, ref)
	}
}
