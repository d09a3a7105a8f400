// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockFileName is the advisory lock file at the root.
const lockFileName = ".lock"

// Lock is the held whole-program mutation lock. Release it on every
// exit path; the kernel also releases it when the process dies, so a
// crash never wedges the root.
type Lock struct {
	file *os.File
}

// Acquire takes the exclusive advisory lock at R/.lock, blocking
// until the current holder releases it. Mutations across processes
// are linearized by this lock; reads never take it and instead
// tolerate the stale views that atomic renames allow.
func Acquire(root string) (*Lock, error) {
	path := filepath.Join(root, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return l.file.Close()
}
