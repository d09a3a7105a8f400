// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/pandora/lib/archive"
	"github.com/bureau-foundation/pandora/lib/digest"
	"github.com/bureau-foundation/pandora/lib/pathsafe"
	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// Import atomically places the package archive at pkgFile into the
// store as <name>/<version>. The expectedDigest is the verified
// SHA-256 of the archive; the caller has already checked it against
// the fetched bytes, and Import records it in the entry's .meta.
//
// The archive is unpacked and validated inside a hidden temp
// directory under store/; the final rename is the commit point. Any
// failure before it leaves store/ unchanged. If the version is
// already published, Import returns success when the recorded digest
// matches (idempotent reinstall) and wraps [ErrConflict] otherwise;
// it never overwrites.
//
// The caller must hold the layout mutation lock.
func (s *Store) Import(pkgFile string, ref pkgref.Ref, expectedDigest digest.Digest) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}

	// MkdirTemp creates the directory 0700: in-flight imports are
	// invisible to anything but this process and the recovery sweep.
	tmpRoot, err := os.MkdirTemp(s.Dir(), tmpImportPrefix)
	if err != nil {
		return "", fmt.Errorf("creating import temp directory: %w", err)
	}

	published := false
	defer func() {
		if !published {
			os.RemoveAll(tmpRoot)
		}
	}()

	entryDir := filepath.Join(tmpRoot, ref.Name, ref.Version)
	filesDir := filepath.Join(entryDir, filesDirName)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return "", fmt.Errorf("creating unpack directory: %w", err)
	}

	result, err := archive.Unpack(pkgFile, filesDir)
	if err != nil {
		return "", fmt.Errorf("unpacking %s: %w", ref, err)
	}

	if err := pathsafe.ValidateTree(filesDir); err != nil {
		return "", fmt.Errorf("unsafe archive for %s: %w", ref, err)
	}

	// The unpacker leaves .manifest beside the files it lists; the
	// store keeps it at the entry level, next to files/ and .meta.
	manifestSrc := filepath.Join(filesDir, archive.ManifestName)
	if _, statErr := os.Lstat(manifestSrc); statErr == nil {
		if err := os.Rename(manifestSrc, filepath.Join(entryDir, archive.ManifestName)); err != nil {
			return "", fmt.Errorf("placing manifest for %s: %w", ref, err)
		}
	}

	if err := writeMeta(entryDir, &Meta{
		Schema:     metaSchemaVersion,
		Name:       ref.Name,
		Version:    ref.Version,
		SHA256:     digest.Format(expectedDigest),
		Size:       result.Bytes,
		EntryCount: len(result.Accepted),
		ImportedAt: time.Now().Unix(),
	}); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Join(s.Dir(), ref.Name), 0o755); err != nil {
		return "", fmt.Errorf("creating package directory: %w", err)
	}

	finalDir := s.EntryPath(ref)
	if _, statErr := os.Stat(finalDir); statErr == nil {
		return s.reconcileExisting(ref, finalDir, expectedDigest)
	}

	// Commit point: the entry becomes visible complete or not at all.
	if err := os.Rename(entryDir, finalDir); err != nil {
		return "", fmt.Errorf("publishing %s: %w", ref, err)
	}
	published = true

	// The temp root now holds only empty parents.
	os.RemoveAll(tmpRoot)
	return finalDir, nil
}

// reconcileExisting decides the idempotent-reinstall question for an
// already-published version: same digest is success, anything else is
// a conflict. The existing entry is left untouched either way.
func (s *Store) reconcileExisting(ref pkgref.Ref, finalDir string, expectedDigest digest.Digest) (string, error) {
	meta, err := s.ReadMeta(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s is published but its digest record is unreadable: %v",
			ErrConflict, ref, err)
	}
	recorded, err := meta.Digest()
	if err != nil {
		return "", fmt.Errorf("%w: %s has a malformed digest record: %v", ErrConflict, ref, err)
	}
	if !digest.Equal(recorded, expectedDigest) {
		return "", fmt.Errorf("%w: %s recorded %s, incoming %s",
			ErrConflict, ref, recorded, expectedDigest)
	}
	return finalDir, nil
}
