// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bureau-foundation/pandora/lib/fetch"
)

// partialMaxAge is how old a fetch partial under tmp/ must be before
// the sweep reaps it. In-flight downloads by a concurrent process are
// younger than this; anything older is debris from a dead run.
const partialMaxAge = 24 * time.Hour

// Sweep clears recovery debris under the root: interrupted import
// temp trees, interrupted profile assemblies, a vir-new pointer left
// mid-swap, and stale fetch partials. Run it under the mutation lock
// at the start of any mutating command — the lock guarantees no live
// process owns the import and profile temp directories it removes.
//
// Transaction logs are never swept; they are the rollback history.
func Sweep(root string) error {
	if err := sweepPrefixed(filepath.Join(root, "store"), ".tmp-import-"); err != nil {
		return err
	}
	if err := sweepPrefixed(filepath.Join(root, "profiles"), ".tmp-profile-"); err != nil {
		return err
	}
	if err := sweepVirNew(root); err != nil {
		return err
	}

	cutoff := time.Now().Add(-partialMaxAge)
	return fetch.CleanPartials(filepath.Join(root, "tmp"), func(info os.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

func sweepPrefixed(dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// sweepVirNew removes a vir-new pointer whose target no longer
// exists. One with a live target is left alone — the next activation
// replaces it anyway, and it may be the only record of a swap that
// died between the symlink and the final rename.
func sweepVirNew(root string) error {
	virNew := filepath.Join(root, "vir-new")
	target, err := os.Readlink(virNew)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspecting vir-new: %w", err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.Remove(virNew); err != nil {
		return fmt.Errorf("removing vir-new: %w", err)
	}
	return nil
}
