// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/pandora/lib/pathsafe"
)

// ManifestName is the file written into the destination listing the
// accepted relative paths, one per line, in table order. The store
// keeps it beside the unpacked tree as the entry's content listing.
const ManifestName = ".manifest"

// UnpackResult reports what an unpack accepted and skipped.
type UnpackResult struct {
	// Accepted lists the sanitized relative paths created under the
	// destination, in table order.
	Accepted []string

	// Skipped counts entries whose stored path failed sanitization.
	// Their blobs were consumed but nothing was written.
	Skipped int

	// Bytes is the total blob size of accepted entries.
	Bytes uint64
}

// Unpack extracts the archive at archivePath into dest, creating dest
// if needed. Stored paths are sanitized; entries whose path is
// absolute, empty, or contains `..` or NUL are skipped with the
// stream still advanced past their blob, so one crafted entry cannot
// shift every blob after it. Nothing is ever written outside dest.
//
// Structural failures (bad magic, truncated table or blobs, failed
// writes) are unrecoverable and abort the unpack.
func Unpack(archivePath, dest string) (*UnpackResult, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", dest, err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer file.Close()

	entries, blobStart, err := readTable(file)
	if err != nil {
		return nil, err
	}

	result := &UnpackResult{}
	if len(entries) == 0 {
		return result, nil
	}

	if _, err := file.Seek(int64(blobStart), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to blob region: %w", err)
	}
	blobs := bufio.NewReader(file)

	for index, entry := range entries {
		if entry.Path == "" {
			result.Skipped++
			if err := skipBlob(blobs, entry.Size); err != nil {
				return nil, fmt.Errorf("%w: skipping blob %d: %v", ErrFormat, index, err)
			}
			continue
		}

		outPath := filepath.Join(dest, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating parents for %s: %w", entry.Path, err)
		}

		if entry.IsSymlink() {
			if err := extractSymlink(blobs, entry, outPath); err != nil {
				return nil, err
			}
		} else {
			if err := extractFile(blobs, entry, outPath); err != nil {
				return nil, err
			}
		}
		result.Accepted = append(result.Accepted, entry.Path)
		result.Bytes += entry.Size
	}

	if err := writeManifest(dest, result.Accepted); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns the archive's table entries with stored paths exactly
// as written, without sanitization. Callers displaying entries should
// treat the paths as untrusted strings.
func List(archivePath string) ([]Entry, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer file.Close()

	entries, _, err := readRawTable(file)
	return entries, err
}

// readTable parses the header and entry table, sanitizing stored
// paths. Entries that fail sanitization come back with an empty Path.
// Returns the entries and the computed blob region start.
func readTable(file *os.File) ([]Entry, uint64, error) {
	entries, blobStart, err := readRawTable(file)
	if err != nil {
		return nil, 0, err
	}
	for i := range entries {
		normalized, normErr := pathsafe.Normalize(entries[i].Path)
		if normErr != nil {
			entries[i].Path = ""
			continue
		}
		entries[i].Path = normalized
	}
	return entries, blobStart, nil
}

func readRawTable(file *os.File) ([]Entry, uint64, error) {
	reader := bufio.NewReader(file)

	var header [headerSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	if !bytes.Equal(header[:magicLen], magic[:]) {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrFormat, header[:magicLen])
	}
	entryCount := binary.LittleEndian.Uint64(header[magicLen:])

	var entries []Entry
	tableSize := uint64(0)
	for i := uint64(0); i < entryCount; i++ {
		var fixed [entryHeaderSize]byte
		if _, err := io.ReadFull(reader, fixed[:]); err != nil {
			return nil, 0, fmt.Errorf("%w: reading table entry %d: %v", ErrFormat, i, err)
		}
		pathLen := binary.LittleEndian.Uint32(fixed[0:4])
		entry := Entry{
			Size:   binary.LittleEndian.Uint64(fixed[4:12]),
			Offset: binary.LittleEndian.Uint64(fixed[12:20]),
			Flags:  binary.LittleEndian.Uint32(fixed[20:24]),
		}
		if pathLen > 0 {
			raw := make([]byte, pathLen)
			if _, err := io.ReadFull(reader, raw); err != nil {
				return nil, 0, fmt.Errorf("%w: reading stored path of entry %d: %v", ErrFormat, i, err)
			}
			entry.Path = string(raw)
		}
		tableSize += entryHeaderSize + uint64(pathLen)
		entries = append(entries, entry)
	}

	return entries, headerSize + tableSize, nil
}

func extractFile(blobs io.Reader, entry Entry, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return fmt.Errorf("creating %s: %w", entry.Path, err)
	}
	if _, err := io.CopyN(out, blobs, int64(entry.Size)); err != nil {
		out.Close()
		return fmt.Errorf("%w: reading blob for %s: %v", ErrFormat, entry.Path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", entry.Path, err)
	}
	return nil
}

func extractSymlink(blobs io.Reader, entry Entry, outPath string) error {
	target := make([]byte, entry.Size)
	if _, err := io.ReadFull(blobs, target); err != nil {
		return fmt.Errorf("%w: reading symlink target for %s: %v", ErrFormat, entry.Path, err)
	}
	// Replace whatever sits at the path, but never descend through it:
	// Remove deletes the node itself, symlink or file, and fails on a
	// non-empty directory, which then fails the symlink call below.
	os.Remove(outPath)
	if err := os.Symlink(string(target), outPath); err != nil {
		return fmt.Errorf("creating symlink %s: %w", entry.Path, err)
	}
	return nil
}

func skipBlob(blobs io.Reader, size uint64) error {
	_, err := io.CopyN(io.Discard, blobs, int64(size))
	return err
}

func writeManifest(dest string, accepted []string) error {
	var listing strings.Builder
	for _, path := range accepted {
		listing.WriteString(path)
		listing.WriteByte('\n')
	}
	manifestPath := filepath.Join(dest, ManifestName)
	if err := os.WriteFile(manifestPath, []byte(listing.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ManifestName, err)
	}
	return nil
}
