// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// buildTree writes a small package tree: bin/foo plus a symlink to it.
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "foo"), []byte("hello\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink("bin/foo", filepath.Join(root, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	return root
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := buildTree(t)
	archivePath := filepath.Join(t.TempDir(), "a.pnd")
	if err := Pack(archivePath, []string{src}, nil); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	dest := t.TempDir()
	result, err := Unpack(archivePath, dest)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if result.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", result.Skipped)
	}

	content, err := os.ReadFile(filepath.Join(dest, "bin", "foo"))
	if err != nil {
		t.Fatalf("ReadFile bin/foo: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("bin/foo = %q, want %q", content, "hello\n")
	}

	target, err := os.Readlink(filepath.Join(dest, "link"))
	if err != nil {
		t.Fatalf("Readlink link: %v", err)
	}
	if target != "bin/foo" {
		t.Errorf("link target = %q, want %q", target, "bin/foo")
	}

	manifest, err := os.ReadFile(filepath.Join(dest, ManifestName))
	if err != nil {
		t.Fatalf("ReadFile manifest: %v", err)
	}
	if string(manifest) != "bin/foo\nlink\n" {
		t.Errorf("manifest = %q, want %q", manifest, "bin/foo\nlink\n")
	}
}

func TestUnpackDeterministic(t *testing.T) {
	src := buildTree(t)
	archivePath := filepath.Join(t.TempDir(), "a.pnd")
	if err := Pack(archivePath, []string{src}, nil); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	destA := t.TempDir()
	destB := t.TempDir()
	if _, err := Unpack(archivePath, destA); err != nil {
		t.Fatalf("Unpack A: %v", err)
	}
	if _, err := Unpack(archivePath, destB); err != nil {
		t.Fatalf("Unpack B: %v", err)
	}

	for _, rel := range []string{"bin/foo", ManifestName} {
		a, err := os.ReadFile(filepath.Join(destA, rel))
		if err != nil {
			t.Fatalf("ReadFile %s: %v", rel, err)
		}
		b, err := os.ReadFile(filepath.Join(destB, rel))
		if err != nil {
			t.Fatalf("ReadFile %s: %v", rel, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between unpacks", rel)
		}
	}
}

func TestListReportsRawEntries(t *testing.T) {
	src := buildTree(t)
	archivePath := filepath.Join(t.TempDir(), "a.pnd")
	if err := Pack(archivePath, []string{src}, nil); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	entries, err := List(archivePath)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	if entries[0].Path != "bin/foo" || entries[0].IsSymlink() {
		t.Errorf("entry 0 = %+v, want regular bin/foo", entries[0])
	}
	if entries[1].Path != "link" || !entries[1].IsSymlink() {
		t.Errorf("entry 1 = %+v, want symlink link", entries[1])
	}
	if entries[1].Size != uint64(len("bin/foo")) {
		t.Errorf("symlink blob size = %d, want %d", entries[1].Size, len("bin/foo"))
	}
}

func TestPackSingleFileStoresBasename(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "tool")
	if err := os.WriteFile(filePath, []byte("payload"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	archivePath := filepath.Join(t.TempDir(), "a.pnd")
	if err := Pack(archivePath, []string{filePath}, nil); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	entries, err := List(archivePath)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "tool" {
		t.Fatalf("entries = %+v, want single entry 'tool'", entries)
	}
}

// craftArchive hand-builds an archive with the given stored paths and
// blobs, for traversal and offset-tolerance tests.
func craftArchive(t *testing.T, paths []string, blobs [][]byte, flags []uint32, offsets []uint64) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte("PNDARCH\x01"))
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(paths)))
	buf.Write(scratch[:])
	for i, path := range paths {
		var header [24]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(path)))
		binary.LittleEndian.PutUint64(header[4:12], uint64(len(blobs[i])))
		binary.LittleEndian.PutUint64(header[12:20], offsets[i])
		binary.LittleEndian.PutUint32(header[20:24], flags[i])
		buf.Write(header[:])
		buf.WriteString(path)
	}
	for _, blob := range blobs {
		buf.Write(blob)
	}
	path := filepath.Join(t.TempDir(), "crafted.pnd")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestUnpackSkipsTraversalEntries(t *testing.T) {
	archivePath := craftArchive(t,
		[]string{"../escape", "safe"},
		[][]byte{[]byte("evil"), []byte("good")},
		[]uint32{0, 0},
		[]uint64{0, 0},
	)

	dest := filepath.Join(t.TempDir(), "out")
	result, err := Unpack(archivePath, dest)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}

	if _, err := os.Lstat(filepath.Join(filepath.Dir(dest), "escape")); !errors.Is(err, os.ErrNotExist) {
		t.Error("traversal entry escaped the destination")
	}

	// The skipped blob must still be consumed so later blobs align.
	content, err := os.ReadFile(filepath.Join(dest, "safe"))
	if err != nil {
		t.Fatalf("ReadFile safe: %v", err)
	}
	if string(content) != "good" {
		t.Errorf("safe = %q, want %q (stream misaligned after skip)", content, "good")
	}

	manifest, err := os.ReadFile(filepath.Join(dest, ManifestName))
	if err != nil {
		t.Fatalf("ReadFile manifest: %v", err)
	}
	if string(manifest) != "safe\n" {
		t.Errorf("manifest = %q, want %q", manifest, "safe\n")
	}
}

func TestUnpackSkipsAbsoluteAndNulPaths(t *testing.T) {
	archivePath := craftArchive(t,
		[]string{"/etc/passwd", "a\x00b", "keep"},
		[][]byte{[]byte("1"), []byte("22"), []byte("333")},
		[]uint32{0, 0, 0},
		[]uint64{0, 0, 0},
	)
	dest := filepath.Join(t.TempDir(), "out")
	result, err := Unpack(archivePath, dest)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
	content, err := os.ReadFile(filepath.Join(dest, "keep"))
	if err != nil {
		t.Fatalf("ReadFile keep: %v", err)
	}
	if string(content) != "333" {
		t.Errorf("keep = %q, want %q", content, "333")
	}
}

func TestUnpackIgnoresAdvisoryOffsets(t *testing.T) {
	// Deliberately bogus stored offsets: the reader must derive blob
	// positions from the table layout, not the recorded values.
	archivePath := craftArchive(t,
		[]string{"one", "two"},
		[][]byte{[]byte("AAA"), []byte("BB")},
		[]uint32{0, 0},
		[]uint64{9999, 12345},
	)
	dest := t.TempDir()
	if _, err := Unpack(archivePath, dest); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	one, _ := os.ReadFile(filepath.Join(dest, "one"))
	two, _ := os.ReadFile(filepath.Join(dest, "two"))
	if string(one) != "AAA" || string(two) != "BB" {
		t.Errorf("blobs misread: one=%q two=%q", one, two)
	}
}

func TestUnpackRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pnd")
	if err := os.WriteFile(path, []byte("NOTPNDXX\x00\x00\x00\x00\x00\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Unpack(path, t.TempDir()); !errors.Is(err, ErrFormat) {
		t.Errorf("Unpack(bad magic) = %v, want ErrFormat", err)
	}
}

func TestUnpackRejectsTruncatedTable(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte("PNDARCH\x01"))
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], 5)
	buf.Write(scratch[:])
	buf.Write([]byte{1, 2, 3}) // far short of five table entries
	path := filepath.Join(t.TempDir(), "trunc.pnd")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Unpack(path, t.TempDir()); !errors.Is(err, ErrFormat) {
		t.Errorf("Unpack(truncated) = %v, want ErrFormat", err)
	}
}

func TestUnpackSymlinkReplacesExistingFile(t *testing.T) {
	archivePath := craftArchive(t,
		[]string{"link"},
		[][]byte{[]byte("target")},
		[]uint32{FlagSymlink},
		[]uint64{0},
	)
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "link"), []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Unpack(archivePath, dest); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dest, "link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "target" {
		t.Errorf("target = %q, want %q", target, "target")
	}
}

func TestPackWarnsOnSizeChange(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "shrinking")
	if err := os.WriteFile(filePath, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	packer := NewPacker()
	var warned bool
	packer.Warn = func(format string, args ...any) { warned = true }
	if err := packer.Add(filePath); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Shrink the file between enumeration and streaming.
	if err := os.WriteFile(filePath, []byte("0123"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var out bytes.Buffer
	if err := packer.Pack(&out); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !warned {
		t.Error("expected a size-change warning, got none")
	}
}
