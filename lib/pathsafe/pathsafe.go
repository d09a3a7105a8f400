// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathsafe validates the relative paths that arrive inside
// archives and manifests. Those inputs are untrusted: a crafted entry
// path or symlink target could otherwise escape the store by chaining
// components. Normalization is strict — a `..` component is rejected
// outright rather than resolved, because lenient pop-resolution lets
// `a/../../escape` collapse into a traversal.
package pathsafe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxPathLen bounds the total length of a normalized path. Matches
// the common PATH_MAX on the platforms Pandora targets.
const MaxPathLen = 4096

// ErrUnsafePath is wrapped by [Normalize] and [ValidateTree] for any
// rejected path or symlink target.
var ErrUnsafePath = errors.New("unsafe path")

// Normalize canonicalizes a slash-separated relative path. Empty
// components and single-dot components are dropped; the result has no
// leading, trailing, or repeated slashes.
//
// Rejected outright: absolute paths, empty input (or input that
// normalizes to nothing), any `..` component, any component containing
// a NUL byte, and paths at or beyond [MaxPathLen].
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, raw)
	}
	if len(raw) >= MaxPathLen {
		return "", fmt.Errorf("%w: path length %d exceeds limit", ErrUnsafePath, len(raw))
	}

	var parts []string
	for _, component := range strings.Split(raw, "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: parent-traversal component in %q", ErrUnsafePath, raw)
		}
		if strings.ContainsRune(component, 0) {
			return "", fmt.Errorf("%w: NUL byte in component of %q", ErrUnsafePath, raw)
		}
		parts = append(parts, component)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: path %q has no components", ErrUnsafePath, raw)
	}
	return strings.Join(parts, "/"), nil
}

// ValidateTree walks the directory tree at root without following
// symlinks and rejects it if any encountered relative path contains a
// `..` component, or any symlink target is absolute or contains a
// `..` component. A nil return means the tree is safe to rename into
// the store.
func ValidateTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("relativizing %s: %w", path, relErr)
		}
		if rel == "." {
			return nil
		}
		if len(path) >= MaxPathLen {
			return fmt.Errorf("%w: path length %d exceeds limit: %s", ErrUnsafePath, len(path), path)
		}
		for _, component := range strings.Split(filepath.ToSlash(rel), "/") {
			if component == ".." {
				return fmt.Errorf("%w: parent-traversal component in %q", ErrUnsafePath, rel)
			}
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			target, linkErr := os.Readlink(path)
			if linkErr != nil {
				return fmt.Errorf("reading symlink %s: %w", path, linkErr)
			}
			if strings.HasPrefix(target, "/") {
				return fmt.Errorf("%w: symlink %s has absolute target %q", ErrUnsafePath, rel, target)
			}
			for _, component := range strings.Split(target, "/") {
				if component == ".." {
					return fmt.Errorf("%w: symlink %s target %q contains parent traversal", ErrUnsafePath, rel, target)
				}
			}
		}
		return nil
	})
}
