// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile builds and activates the symlink forests that
// expose store entries to the user. A profile moves through a fixed
// lifecycle: assembled under a hidden temp name, staged by a rename
// into its permanent name, made live by atomically swapping the vir
// pointer, superseded when a later activation replaces it, and
// eventually reaped. The vir symlink is the sole truth about which
// profile is live; the transaction log written after each swap is
// diagnostic and feeds rollback, never activation itself.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/pandora/lib/pathsafe"
)

// Names under the Pandora root.
const (
	profilesDirName  = "profiles"
	tmpProfilePrefix = ".tmp-profile-"
	virName          = "vir"
	virNewName       = "vir-new"
)

// Error kinds, one per caller-visible failure class. They do not
// overlap: a given assembly failure is exactly one of these.
var (
	// ErrConflict is wrapped when two entries share a normalized
	// relative path, or an entry collides with a directory inside
	// the profile being built.
	ErrConflict = errors.New("profile path conflict")

	// ErrMissingTarget is wrapped when an entry's target path does
	// not exist.
	ErrMissingTarget = errors.New("profile target missing")

	// ErrInvalidInput is wrapped for malformed relative paths and
	// empty entry lists.
	ErrInvalidInput = errors.New("invalid profile input")
)

// Entry is one requested link in a profile.
type Entry struct {
	// RelPath is the link's path inside the profile, normalized
	// during assembly.
	RelPath string

	// TargetPath is the absolute path the link points at, normally a
	// file inside a store entry. Any existing file type is
	// acceptable.
	TargetPath string

	// PkgName and PkgVersion identify the owning package for
	// conflict diagnostics.
	PkgName    string
	PkgVersion string
}

func (e Entry) owner() string {
	if e.PkgName == "" {
		return "(unknown)"
	}
	return e.PkgName + "@" + e.PkgVersion
}

// Assemble builds a symlink forest in a fresh temp directory under
// R/profiles and returns its path. The caller owns the returned
// directory and must either activate it or delete it.
//
// Entries are processed in order. Each relative path is normalized,
// the target must exist, and a normalized path equal to any earlier
// entry's is a conflict naming both owners. On any failure the temp
// directory is removed before returning, so a failed assembly leaves
// nothing on disk.
func Assemble(root string, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: no entries", ErrInvalidInput)
	}

	profilesDir := filepath.Join(root, profilesDirName)
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		return "", fmt.Errorf("creating profiles directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(profilesDir, tmpProfilePrefix)
	if err != nil {
		return "", fmt.Errorf("creating temp profile: %w", err)
	}

	success := false
	defer func() {
		if !success {
			os.RemoveAll(tmpDir)
		}
	}()

	owners := make(map[string]Entry)
	for _, entry := range entries {
		normalized, err := pathsafe.Normalize(entry.RelPath)
		if err != nil {
			return "", fmt.Errorf("%w: relpath %q: %v", ErrInvalidInput, entry.RelPath, err)
		}

		if _, err := os.Stat(entry.TargetPath); err != nil {
			return "", fmt.Errorf("%w: %s wants %s: %v",
				ErrMissingTarget, entry.owner(), entry.TargetPath, err)
		}

		if previous, taken := owners[normalized]; taken {
			return "", fmt.Errorf("%w: %s claimed by both %s and %s",
				ErrConflict, normalized, previous.owner(), entry.owner())
		}
		owners[normalized] = entry

		target, err := filepath.Abs(entry.TargetPath)
		if err != nil {
			return "", fmt.Errorf("resolving target %s: %w", entry.TargetPath, err)
		}

		linkPath := filepath.Join(tmpDir, filepath.FromSlash(normalized))
		if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
			return "", fmt.Errorf("creating parents for %s: %w", normalized, err)
		}

		if info, err := os.Lstat(linkPath); err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("%w: %s collides with a directory created for %s",
					ErrConflict, normalized, entry.owner())
			}
			if err := os.Remove(linkPath); err != nil {
				return "", fmt.Errorf("replacing %s: %w", normalized, err)
			}
		}

		if err := os.Symlink(target, linkPath); err != nil {
			return "", fmt.Errorf("linking %s: %w", normalized, err)
		}
	}

	success = true
	return tmpDir, nil
}

// VirPath returns the live-pointer path R/vir.
func VirPath(root string) string {
	return filepath.Join(root, virName)
}

// Live returns the path the live pointer currently names, or an
// error if no profile is active.
func Live(root string) (string, error) {
	target, err := os.Readlink(VirPath(root))
	if err != nil {
		return "", fmt.Errorf("no active profile: %w", err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	return target, nil
}

// Info describes one profile directory.
type Info struct {
	Path string
	Name string
	Live bool
}

// List enumerates the profiles under R/profiles in file-name order,
// skipping in-flight temp assemblies. File-name order is not
// activation order.
func List(root string) ([]Info, error) {
	profilesDir := filepath.Join(root, profilesDirName)
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	live, _ := Live(root)

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(profilesDir, entry.Name())
		infos = append(infos, Info{
			Path: path,
			Name: entry.Name(),
			Live: path == live,
		})
	}
	return infos, nil
}
