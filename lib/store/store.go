// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store manages the immutable package store under
// R/store/<name>/<version>/. An entry that exists is complete: it was
// assembled inside a hidden temp directory and published with a
// single rename, and is never mutated afterward. Each entry holds the
// unpacked tree under files/, the .manifest path listing recorded at
// unpack time, and a .meta record carrying the verified digest that
// makes idempotent reinstalls decidable.
//
// Callers serialize mutations with the layout lock; the store itself
// performs no locking.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/pandora/lib/archive"
	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// Directory and file names within the store.
const (
	storeDirName = "store"
	filesDirName = "files"
	metaFileName = ".meta"

	// tmpImportPrefix prefixes in-flight import directories. The
	// recovery sweep removes leftovers matching it.
	tmpImportPrefix = ".tmp-import-"
)

// ErrConflict is wrapped when a version is already present with a
// different digest. The published entry is never overwritten.
var ErrConflict = errors.New("version already present with different digest")

// Store provides access to the package store of one Pandora root.
type Store struct {
	root string
}

// New returns a Store for the given Pandora root. The store directory
// is created if absent.
func New(root string) (*Store, error) {
	s := &Store{root: root}
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return s, nil
}

// Dir returns the store directory R/store.
func (s *Store) Dir() string {
	return filepath.Join(s.root, storeDirName)
}

// EntryPath returns store/<name>/<version> for a ref, whether or not
// it exists.
func (s *Store) EntryPath(ref pkgref.Ref) string {
	return filepath.Join(s.Dir(), ref.Name, ref.Version)
}

// FilesPath returns the unpacked tree directory of an entry.
func (s *Store) FilesPath(ref pkgref.Ref) string {
	return filepath.Join(s.EntryPath(ref), filesDirName)
}

// Has reports whether an entry is published.
func (s *Store) Has(ref pkgref.Ref) bool {
	info, err := os.Stat(s.EntryPath(ref))
	return err == nil && info.IsDir()
}

// Entry summarizes one published store entry.
type Entry struct {
	Ref  pkgref.Ref
	Meta *Meta
}

// Entries lists all published entries, sorted by name then version.
// Entries whose .meta record is unreadable are included with a nil
// Meta rather than failing the listing.
func (s *Store) Entries() ([]Entry, error) {
	names, err := os.ReadDir(s.Dir())
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	var entries []Entry
	for _, nameEntry := range names {
		if !nameEntry.IsDir() || strings.HasPrefix(nameEntry.Name(), ".") {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(s.Dir(), nameEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading store entry %s: %w", nameEntry.Name(), err)
		}
		for _, versionEntry := range versions {
			if !versionEntry.IsDir() {
				continue
			}
			ref := pkgref.Ref{Name: nameEntry.Name(), Version: versionEntry.Name()}
			meta, _ := s.ReadMeta(ref)
			entries = append(entries, Entry{Ref: ref, Meta: meta})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Ref.Name != entries[j].Ref.Name {
			return entries[i].Ref.Name < entries[j].Ref.Name
		}
		return entries[i].Ref.Version < entries[j].Ref.Version
	})
	return entries, nil
}

// Verify re-checks a published entry against its recorded .manifest
// listing: every listed path must exist under files/, and files/ must
// contain nothing unlisted. It detects local tampering or partial
// deletion, not upstream substitution — the digest was checked before
// publication and the archive is gone.
func (s *Store) Verify(ref pkgref.Ref) error {
	entryPath := s.EntryPath(ref)
	listing, err := os.ReadFile(filepath.Join(entryPath, archive.ManifestName))
	if err != nil {
		return fmt.Errorf("reading manifest of %s: %w", ref, err)
	}

	recorded := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimRight(string(listing), "\n"), "\n") {
		if line == "" {
			continue
		}
		recorded[line] = true
	}

	filesPath := s.FilesPath(ref)
	found := make(map[string]bool)
	err = filepath.WalkDir(filesPath, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(filesPath, path)
		if relErr != nil {
			return relErr
		}
		found[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", ref, err)
	}

	for path := range recorded {
		if !found[path] {
			return fmt.Errorf("entry %s: recorded path %s missing from files/", ref, path)
		}
	}
	for path := range found {
		if !recorded[path] {
			return fmt.Errorf("entry %s: unrecorded path %s present in files/", ref, path)
		}
	}
	return nil
}
