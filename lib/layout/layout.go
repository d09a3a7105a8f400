// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout owns the Pandora root: discovery, directory
// bootstrap, the whole-program mutation lock, and the recovery sweep
// that clears debris left by interrupted runs.
//
// Everything mutable lives under one directory — $PANDORA_HOME if
// set, otherwise $HOME/pandora. Any operation that writes to store/,
// profiles/, or the vir pointer takes the advisory lock for its whole
// extent; fetching and hashing are lock-free.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// envRoot and envHome are the environment variables consulted for
// root discovery, in that order.
const (
	envRoot = "PANDORA_HOME"
	envHome = "HOME"
)

// Subdirectories the bootstrap guarantees under the root.
var requiredDirs = []string{
	"store",
	"profiles",
	"manifests",
	"cache",
	"tmp",
	"keys",
}

// ErrConfigMissing is wrapped when a required environment variable is
// absent.
var ErrConfigMissing = errors.New("required configuration missing")

// Root returns the Pandora root directory: $PANDORA_HOME if
// non-empty, else $HOME/pandora. An absent $HOME is an error — there
// is no further fallback.
func Root() (string, error) {
	if root := os.Getenv(envRoot); root != "" {
		return root, nil
	}
	home := os.Getenv(envHome)
	if home == "" {
		return "", fmt.Errorf("%w: neither %s nor %s is set", ErrConfigMissing, envRoot, envHome)
	}
	return filepath.Join(home, "pandora"), nil
}

// Init idempotently creates the root and its required
// subdirectories. With seedVir set, a first-run placeholder profile
// with empty bin/ and lib/ directories is created and the live
// pointer aimed at it, so vir always names an existing profile
// directory from the very first command.
func Init(root string, seedVir bool) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", root, err)
	}
	for _, dir := range requiredDirs {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	if seedVir {
		if err := seedPlaceholderProfile(root); err != nil {
			return err
		}
	}
	return nil
}

// seedPlaceholderProfile gives a fresh root an empty live profile.
// A vir pointer that already exists is left alone, whatever it names:
// the activator owns it from then on.
func seedPlaceholderProfile(root string) error {
	virPath := filepath.Join(root, "vir")
	if _, err := os.Lstat(virPath); err == nil {
		return nil
	}

	placeholder := filepath.Join(root, "profiles",
		fmt.Sprintf("default-%d-0", os.Getpid()))
	for _, sub := range []string{"bin", "lib"} {
		if err := os.MkdirAll(filepath.Join(placeholder, sub), 0o755); err != nil {
			return fmt.Errorf("seeding placeholder profile: %w", err)
		}
	}
	if err := os.Symlink(placeholder, virPath); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("seeding live pointer: %w", err)
	}
	return nil
}
