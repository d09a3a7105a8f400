// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the .pnd container format, the flat
// archive Pandora packages are shipped in.
//
// Layout (integers little-endian):
//
//	offset  bytes   field
//	  0       8     magic "PNDARCH\x01"
//	  8       8     entry_count (u64)
//	 16     varies  entry table
//	  …     varies  blob region
//
// Each table entry is a 24-byte fixed header — path_len (u32),
// blob_size (u64), blob_offset (u64), flags (u32) — followed by
// path_len bytes of stored path. Blobs are concatenated in table
// order. A regular-file blob is the raw contents; a symlink blob
// (flags bit 0) is the link target bytes with no trailing NUL.
//
// The stored blob_offset is advisory: the reader derives the blob
// region start from the header and table sizes and walks blobs by
// their recorded sizes, so an archive whose offsets disagree with the
// natural sequence still unpacks. The writer always produces
// sequential offsets.
package archive

import "errors"

// Format constants. These are protocol values — changing them breaks
// compatibility with existing .pnd archives.
const (
	// magicLen is the length of the file signature.
	magicLen = 8

	// headerSize is magic plus the u64 entry count.
	headerSize = magicLen + 8

	// entryHeaderSize is the fixed part of a table entry:
	// path_len(4) + blob_size(8) + blob_offset(8) + flags(4).
	entryHeaderSize = 24

	// FlagSymlink marks an entry whose blob is a symlink target.
	// All other flag bits are reserved and written as zero.
	FlagSymlink uint32 = 0x1
)

// magic is the 8-byte .pnd file signature.
var magic = [magicLen]byte{'P', 'N', 'D', 'A', 'R', 'C', 'H', 0x01}

// ErrFormat is wrapped by the reader for structurally invalid
// archives: bad magic, truncated tables, short blob reads.
var ErrFormat = errors.New("malformed archive")

// Entry describes one archive member as recorded in the table.
type Entry struct {
	// Path is the stored archive-relative path, exactly as written.
	// The unpacker sanitizes it separately; List returns it raw.
	Path string

	// Size is the blob length in bytes.
	Size uint64

	// Offset is the recorded absolute blob offset. Informational —
	// see the package comment.
	Offset uint64

	// Flags holds the entry flag bits.
	Flags uint32
}

// IsSymlink reports whether the entry's blob is a symlink target.
func (e Entry) IsSymlink() bool {
	return e.Flags&FlagSymlink != 0
}
