// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/bureau-foundation/pandora/lib/digest"
	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// metaSchemaVersion is bumped when the record layout changes.
const metaSchemaVersion = 1

// Meta is the per-entry metadata record stored as CBOR at
// store/<name>/<version>/.meta. It is written inside the import temp
// tree before the publishing rename, so a published entry always
// carries the digest it was verified against.
type Meta struct {
	Schema     int    `cbor:"schema"`
	Name       string `cbor:"name"`
	Version    string `cbor:"version"`
	SHA256     string `cbor:"sha256"`
	Size       uint64 `cbor:"size"`
	EntryCount int    `cbor:"entry_count"`
	ImportedAt int64  `cbor:"imported_at"`
}

// Digest parses the recorded hex digest.
func (m *Meta) Digest() (digest.Digest, error) {
	return digest.Parse(m.SHA256)
}

// ReadMeta loads the metadata record of a published entry.
func (s *Store) ReadMeta(ref pkgref.Ref) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.EntryPath(ref), metaFileName))
	if err != nil {
		return nil, fmt.Errorf("reading meta of %s: %w", ref, err)
	}
	var meta Meta
	if err := cbor.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding meta of %s: %w", ref, err)
	}
	return &meta, nil
}

// writeMeta writes the record into an entry directory (normally the
// still-unpublished temp tree).
func writeMeta(entryDir string, meta *Meta) error {
	data, err := cbor.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}
	return nil
}
