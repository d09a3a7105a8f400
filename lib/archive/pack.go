// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WarnFunc receives non-fatal pack diagnostics: skipped special-file
// inputs and size-changed-while-streaming notices. A nil WarnFunc discards them.
type WarnFunc func(format string, args ...any)

// packEntry pairs a table entry with the on-disk source it streams
// from. Symlink targets are captured at enumeration time so the
// written blob always matches the recorded size.
type packEntry struct {
	path       string // archive-relative stored path
	source     string // absolute path on disk (regular files)
	linkTarget string // readlink output (symlinks)
	size       uint64
	flags      uint32
}

// Packer accumulates inputs and writes them as a .pnd archive. The
// table is laid out before any blob, so enumeration is complete
// before [Packer.Pack] streams file contents.
//
// Typical usage:
//
//	packer := NewPacker()
//	packer.Add("./bin")
//	packer.Add("./README")
//	packer.Pack(out)
type Packer struct {
	// Warn receives non-fatal diagnostics. May be nil.
	Warn WarnFunc

	entries []packEntry
}

// NewPacker creates an empty packer.
func NewPacker() *Packer {
	return &Packer{}
}

// EntryCount returns the number of entries added so far.
func (p *Packer) EntryCount() int {
	return len(p.entries)
}

// Add enumerates path into the packer. A regular file or symlink is
// stored under its basename. A directory is walked depth-first in
// lexical order and every regular file and symlink inside is stored
// under its path relative to the directory; device, fifo, and socket
// nodes are skipped without failing.
func (p *Packer) Add(path string) error {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Lstat(absolute)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}

	switch {
	case info.Mode().IsRegular():
		return p.addFile(filepath.Base(absolute), absolute, uint64(info.Size()))
	case info.Mode()&fs.ModeSymlink != 0:
		return p.addSymlink(filepath.Base(absolute), absolute)
	case info.IsDir():
		return p.addDir(absolute)
	default:
		// Single special-file inputs are skipped like their in-tree
		// counterparts.
		p.warn("skipping special file %s", path)
		return nil
	}
}

func (p *Packer) addDir(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("relativizing %s: %w", path, relErr)
		}
		stored := filepath.ToSlash(rel)

		switch {
		case entry.Type().IsRegular():
			info, infoErr := entry.Info()
			if infoErr != nil {
				return fmt.Errorf("inspecting %s: %w", path, infoErr)
			}
			return p.addFile(stored, path, uint64(info.Size()))
		case entry.Type()&fs.ModeSymlink != 0:
			return p.addSymlink(stored, path)
		default:
			// Directories carry no entry of their own; device, fifo,
			// and socket nodes are skipped.
			return nil
		}
	})
}

func (p *Packer) addFile(stored, source string, size uint64) error {
	p.entries = append(p.entries, packEntry{
		path:   stored,
		source: source,
		size:   size,
	})
	return nil
}

func (p *Packer) addSymlink(stored, source string) error {
	target, err := os.Readlink(source)
	if err != nil {
		return fmt.Errorf("reading symlink %s: %w", source, err)
	}
	p.entries = append(p.entries, packEntry{
		path:       stored,
		linkTarget: target,
		size:       uint64(len(target)),
		flags:      FlagSymlink,
	})
	return nil
}

// Pack writes the complete archive to w: header, table, then blobs in
// table order. Blob offsets are computed sequentially from the table
// size. If a file's size changed between enumeration and streaming,
// what is present is written and a warning is emitted; the pack does
// not fail.
func (p *Packer) Pack(w io.Writer) error {
	if len(p.entries) == 0 {
		return fmt.Errorf("cannot pack empty archive")
	}

	var tableSize uint64
	for _, entry := range p.entries {
		tableSize += entryHeaderSize + uint64(len(entry.path))
	}

	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("writing magic: %w", err)
	}
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(p.entries)))
	if _, err := w.Write(scratch[:]); err != nil {
		return fmt.Errorf("writing entry count: %w", err)
	}

	offset := uint64(headerSize) + tableSize
	for _, entry := range p.entries {
		var header [entryHeaderSize]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(entry.path)))
		binary.LittleEndian.PutUint64(header[4:12], entry.size)
		binary.LittleEndian.PutUint64(header[12:20], offset)
		binary.LittleEndian.PutUint32(header[20:24], entry.flags)
		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("writing table entry for %s: %w", entry.path, err)
		}
		if _, err := io.WriteString(w, entry.path); err != nil {
			return fmt.Errorf("writing stored path %s: %w", entry.path, err)
		}
		offset += entry.size
	}

	for _, entry := range p.entries {
		if entry.flags&FlagSymlink != 0 {
			if _, err := io.WriteString(w, entry.linkTarget); err != nil {
				return fmt.Errorf("writing symlink blob for %s: %w", entry.path, err)
			}
			continue
		}
		written, err := streamFile(w, entry.source)
		if err != nil {
			return fmt.Errorf("streaming %s: %w", entry.path, err)
		}
		if written != entry.size {
			p.warn("size changed while packing %s (recorded %d, wrote %d)",
				entry.path, entry.size, written)
		}
	}
	return nil
}

func (p *Packer) warn(format string, args ...any) {
	if p.Warn != nil {
		p.Warn(format, args...)
	}
}

func streamFile(w io.Writer, source string) (uint64, error) {
	file, err := os.Open(source)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	written, err := io.Copy(w, file)
	return uint64(written), err
}

// Pack is the one-shot form: enumerate inputs and write the archive
// to outPath through a temp-then-rename in the same directory, so a
// failed pack never leaves a partial archive at the destination.
func Pack(outPath string, inputs []string, warn WarnFunc) error {
	packer := NewPacker()
	packer.Warn = warn
	for _, input := range inputs {
		if err := packer.Add(input); err != nil {
			return err
		}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(outPath), ".pack-*.pnd")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := packer.Pack(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("renaming archive to %s: %w", outPath, err)
	}
	success = true
	return nil
}
