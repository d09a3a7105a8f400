// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/pandora/lib/archive"
	"github.com/bureau-foundation/pandora/lib/digest"
	"github.com/bureau-foundation/pandora/lib/pathsafe"
	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// buildArchive packs a minimal tree (bin/foo + symlink) and returns
// the archive path and its digest.
func buildArchive(t *testing.T) (string, digest.Digest) {
	t.Helper()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "foo"), []byte("hello\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink("bin/foo", filepath.Join(src, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	archivePath := filepath.Join(t.TempDir(), "pkg.pnd")
	if err := archive.Pack(archivePath, []string{src}, nil); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	d, err := digest.HashFile(archivePath)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	return archivePath, d
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestImportPublishesEntry(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	ref := pkgref.Ref{Name: "foo", Version: "1.0"}

	storePath, err := s.Import(pkg, ref, d)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if storePath != s.EntryPath(ref) {
		t.Errorf("store path = %q, want %q", storePath, s.EntryPath(ref))
	}

	content, err := os.ReadFile(filepath.Join(storePath, "files", "bin", "foo"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("bin/foo = %q", content)
	}

	listing, err := os.ReadFile(filepath.Join(storePath, archive.ManifestName))
	if err != nil {
		t.Fatalf("manifest missing at entry level: %v", err)
	}
	if string(listing) != "bin/foo\nlink\n" {
		t.Errorf("manifest = %q", listing)
	}

	meta, err := s.ReadMeta(ref)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.SHA256 != digest.Format(d) {
		t.Errorf("meta digest = %s, want %s", meta.SHA256, d)
	}
	if meta.EntryCount != 2 {
		t.Errorf("meta entry count = %d, want 2", meta.EntryCount)
	}
	assertNoImportDebris(t, s)
}

func TestImportIdempotentReinstall(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	ref := pkgref.Ref{Name: "foo", Version: "1.0"}

	first, err := s.Import(pkg, ref, d)
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	marker := filepath.Join(first, "files", "bin", "foo")
	before, _ := os.Stat(marker)

	second, err := s.Import(pkg, ref, d)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if second != first {
		t.Errorf("second Import path = %q, want %q", second, first)
	}

	after, _ := os.Stat(marker)
	if !before.ModTime().Equal(after.ModTime()) {
		t.Error("idempotent reinstall modified the published entry")
	}
	assertNoImportDebris(t, s)
}

func TestImportConflictOnDifferentDigest(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	ref := pkgref.Ref{Name: "foo", Version: "1.0"}

	if _, err := s.Import(pkg, ref, d); err != nil {
		t.Fatalf("Import: %v", err)
	}

	var other digest.Digest
	copy(other[:], bytes.Repeat([]byte{0xAB}, 32))
	_, err := s.Import(pkg, ref, other)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Import with different digest = %v, want ErrConflict", err)
	}

	// The published entry is untouched.
	meta, err := s.ReadMeta(ref)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.SHA256 != digest.Format(d) {
		t.Errorf("recorded digest changed to %s", meta.SHA256)
	}
	assertNoImportDebris(t, s)
}

func TestImportRejectsUnsafeArchive(t *testing.T) {
	// Archive with a symlink whose target is absolute: the stored
	// path itself is clean so the unpacker accepts it, and tree
	// validation must reject the result.
	var buf bytes.Buffer
	buf.Write([]byte("PNDARCH\x01"))
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], 1)
	buf.Write(scratch[:])
	target := "/etc/passwd"
	var header [24]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len("evil")))
	binary.LittleEndian.PutUint64(header[4:12], uint64(len(target)))
	binary.LittleEndian.PutUint32(header[20:24], archive.FlagSymlink)
	buf.Write(header[:])
	buf.WriteString("evil")
	buf.WriteString(target)

	pkg := filepath.Join(t.TempDir(), "evil.pnd")
	if err := os.WriteFile(pkg, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := newStore(t)
	ref := pkgref.Ref{Name: "evil", Version: "1.0"}
	_, err := s.Import(pkg, ref, digest.Sum(buf.Bytes()))
	if !errors.Is(err, pathsafe.ErrUnsafePath) {
		t.Fatalf("Import(unsafe) = %v, want ErrUnsafePath", err)
	}
	if s.Has(ref) {
		t.Error("unsafe archive was published")
	}
	assertNoImportDebris(t, s)
}

func TestImportRejectsInvalidRef(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	_, err := s.Import(pkg, pkgref.Ref{Name: "a/b", Version: "1"}, d)
	if !errors.Is(err, pkgref.ErrInvalidInput) {
		t.Errorf("Import(bad ref) = %v, want ErrInvalidInput", err)
	}
}

func TestEntries(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	for _, spec := range []string{"zeta@1.0", "alpha@2.0", "alpha@1.0"} {
		ref, err := pkgref.Parse(spec)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if _, err := s.Import(pkg, ref, d); err != nil {
			t.Fatalf("Import %s: %v", spec, err)
		}
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	var got []string
	for _, entry := range entries {
		got = append(got, entry.Ref.String())
		if entry.Meta == nil {
			t.Errorf("entry %s has no meta", entry.Ref)
		}
	}
	want := []string{"alpha@1.0", "alpha@2.0", "zeta@1.0"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Entries = %v, want %v", got, want)
	}
}

func TestVerify(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	ref := pkgref.Ref{Name: "foo", Version: "1.0"}
	if _, err := s.Import(pkg, ref, d); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if err := s.Verify(ref); err != nil {
		t.Errorf("Verify(intact) = %v, want nil", err)
	}

	// Deleting a recorded file must fail verification.
	if err := os.Remove(filepath.Join(s.FilesPath(ref), "bin", "foo")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Verify(ref); err == nil {
		t.Error("Verify(missing file) = nil, want error")
	}
}

func TestVerifyDetectsUnrecordedFile(t *testing.T) {
	s := newStore(t)
	pkg, d := buildArchive(t)
	ref := pkgref.Ref{Name: "foo", Version: "1.0"}
	if _, err := s.Import(pkg, ref, d); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.FilesPath(ref), "extra"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Verify(ref); err == nil {
		t.Error("Verify(extra file) = nil, want error")
	}
}

func assertNoImportDebris(t *testing.T, s *Store) {
	t.Helper()
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tmpImportPrefix) {
			t.Errorf("import temp directory %s left behind", entry.Name())
		}
	}
}
