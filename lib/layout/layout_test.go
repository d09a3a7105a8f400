// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRootPrefersPandoraHome(t *testing.T) {
	t.Setenv("PANDORA_HOME", "/custom/pandora")
	t.Setenv("HOME", "/home/user")
	root, err := Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != "/custom/pandora" {
		t.Errorf("Root = %q, want /custom/pandora", root)
	}
}

func TestRootFallsBackToHome(t *testing.T) {
	t.Setenv("PANDORA_HOME", "")
	t.Setenv("HOME", "/home/user")
	root, err := Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != filepath.Join("/home/user", "pandora") {
		t.Errorf("Root = %q", root)
	}
}

func TestRootWithoutHomeFails(t *testing.T) {
	t.Setenv("PANDORA_HOME", "")
	t.Setenv("HOME", "")
	if _, err := Root(); !errors.Is(err, ErrConfigMissing) {
		t.Errorf("Root error = %v, want ErrConfigMissing", err)
	}
}

func TestInitCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pandora")
	if err := Init(root, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, dir := range []string{"store", "profiles", "manifests", "cache", "tmp", "keys"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", dir, err)
		}
	}

	// Idempotent.
	if err := Init(root, false); err != nil {
		t.Errorf("second Init: %v", err)
	}
}

func TestInitSeedsPlaceholderProfile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pandora")
	if err := Init(root, true); err != nil {
		t.Fatalf("Init: %v", err)
	}

	target, err := os.Readlink(filepath.Join(root, "vir"))
	if err != nil {
		t.Fatalf("Readlink vir: %v", err)
	}
	for _, sub := range []string{"bin", "lib"} {
		info, err := os.Stat(filepath.Join(target, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("placeholder profile missing %s: %v", sub, err)
		}
	}

	// Re-running must not clobber an existing pointer.
	before := target
	if err := Init(root, true); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	after, err := os.Readlink(filepath.Join(root, "vir"))
	if err != nil || after != before {
		t.Errorf("vir changed from %q to %q on re-init", before, after)
	}
}

func TestLockSerializes(t *testing.T) {
	root := t.TempDir()
	lock, err := Acquire(root)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Reacquirable after release.
	again, err := Acquire(root)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestSweep(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pandora")
	if err := Init(root, false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	importDebris := filepath.Join(root, "store", ".tmp-import-abc123")
	profileDebris := filepath.Join(root, "profiles", ".tmp-profile-xyz789")
	for _, dir := range []string{importDebris, profileDebris} {
		if err := os.MkdirAll(filepath.Join(dir, "inner"), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	if err := os.Symlink(filepath.Join(root, "profiles", "gone"), filepath.Join(root, "vir-new")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	stalePartial := filepath.Join(root, "tmp", "fetch-1.part")
	if err := os.WriteFile(stalePartial, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stalePartial, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	freshPartial := filepath.Join(root, "tmp", "fetch-2.part")
	if err := os.WriteFile(freshPartial, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	txnLog := filepath.Join(root, "tmp", "txn-1-2.log")
	if err := os.WriteFile(txnLog, []byte("activated=/p\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// A real store entry and profile must survive.
	published := filepath.Join(root, "store", "foo", "1.0")
	if err := os.MkdirAll(published, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	liveProfile := filepath.Join(root, "profiles", "default-1-2")
	if err := os.MkdirAll(liveProfile, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := Sweep(root); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, gone := range []string{importDebris, profileDebris, filepath.Join(root, "vir-new"), stalePartial} {
		if _, err := os.Lstat(gone); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s survived the sweep", gone)
		}
	}
	for _, kept := range []string{published, liveProfile, freshPartial, txnLog} {
		if _, err := os.Lstat(kept); err != nil {
			t.Errorf("%s was wrongly swept: %v", kept, err)
		}
	}

	// A vir-new whose target still exists is not debris.
	virNew := filepath.Join(root, "vir-new")
	if err := os.Symlink(liveProfile, virNew); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if err := Sweep(root); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Lstat(virNew); err != nil {
		t.Error("vir-new with a live target was swept")
	}
}
