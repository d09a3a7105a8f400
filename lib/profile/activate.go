// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Activation reports a completed profile swap.
type Activation struct {
	// ProfilePath is the profile's permanent location.
	ProfilePath string

	// LogPath is the transaction log written after the swap, or ""
	// if the log write failed. The activation is complete either
	// way: vir is the sole truth, the log is diagnostic.
	LogPath string
}

// Activate promotes the temp profile produced by [Assemble] into its
// permanent name R/profiles/<label>-<pid>-<nsec> and atomically
// repoints the live pointer at it via the vir-new dance:
//
//	rename(tmpProfile, final)        — profile staged
//	symlink(final, vir-new)          — next pointer prepared
//	rename(vir-new, vir)             — user-visible commit point
//
// After the first rename the caller has relinquished the temp path.
// If a later step fails, the profile remains staged but not live; a
// subsequent activation or rollback can finish the job.
func Activate(root, tmpProfile, label string) (*Activation, error) {
	if label == "" || strings.ContainsAny(label, "/\x00") {
		return nil, fmt.Errorf("%w: bad profile label %q", ErrInvalidInput, label)
	}

	profilesDir := filepath.Join(root, profilesDirName)
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profiles directory: %w", err)
	}

	nsec := time.Now().Nanosecond()
	finalPath := filepath.Join(profilesDir,
		fmt.Sprintf("%s-%d-%d", label, os.Getpid(), nsec))

	if err := os.Rename(tmpProfile, finalPath); err != nil {
		return nil, fmt.Errorf("staging profile: %w", err)
	}

	if err := swapVir(root, finalPath); err != nil {
		return nil, err
	}

	activation := &Activation{ProfilePath: finalPath}
	if logPath, err := writeTxnLog(root, finalPath, nsec); err == nil {
		activation.LogPath = logPath
	}
	return activation, nil
}

// swapVir points the live pointer at profilePath through the
// transient vir-new symlink. The final rename is atomic: readers see
// the old profile or the new one, never an absent pointer.
func swapVir(root, profilePath string) error {
	virNew := filepath.Join(root, virNewName)
	os.Remove(virNew)
	if err := os.Symlink(profilePath, virNew); err != nil {
		return fmt.Errorf("preparing %s: %w", virNewName, err)
	}
	if err := os.Rename(virNew, VirPath(root)); err != nil {
		return fmt.Errorf("swapping live pointer: %w", err)
	}
	return nil
}

// txn log handling. One tiny file per activation under R/tmp,
// recording the profile that went live.

const txnPrefix = "txn-"

func writeTxnLog(root, profilePath string, nsec int) (string, error) {
	tmpDir := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", err
	}
	logPath := filepath.Join(tmpDir,
		fmt.Sprintf("%s%d-%d.log", txnPrefix, os.Getpid(), nsec))
	record := fmt.Sprintf("activated=%s\n", profilePath)
	if err := os.WriteFile(logPath, []byte(record), 0o644); err != nil {
		return "", err
	}
	return logPath, nil
}

// txnRecord is one parsed transaction log.
type txnRecord struct {
	logPath     string
	profilePath string
	modTime     time.Time
}

// readTxnLogs parses every txn log under R/tmp, newest first.
func readTxnLogs(root string) ([]txnRecord, error) {
	tmpDir := filepath.Join(root, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", tmpDir, err)
	}

	var records []txnRecord
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, txnPrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		logPath := filepath.Join(tmpDir, name)
		data, readErr := os.ReadFile(logPath)
		if readErr != nil {
			continue
		}
		line := strings.TrimSpace(string(data))
		profilePath, ok := strings.CutPrefix(line, "activated=")
		if !ok || profilePath == "" {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		records = append(records, txnRecord{
			logPath:     logPath,
			profilePath: profilePath,
			modTime:     info.ModTime(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].modTime.Equal(records[j].modTime) {
			return records[i].modTime.After(records[j].modTime)
		}
		return records[i].logPath > records[j].logPath
	})
	return records, nil
}

// Rollback repoints the live pointer at the most recently activated
// profile that still exists and is not the current live target, and
// returns its path. The superseded profile directory is left in
// place. Fails when no such profile can be found.
func Rollback(root string) (string, error) {
	records, err := readTxnLogs(root)
	if err != nil {
		return "", err
	}

	current, _ := Live(root)
	for _, record := range records {
		if record.profilePath == current {
			continue
		}
		info, statErr := os.Stat(record.profilePath)
		if statErr != nil || !info.IsDir() {
			continue
		}
		if err := swapVir(root, record.profilePath); err != nil {
			return "", err
		}
		writeTxnLog(root, record.profilePath, time.Now().Nanosecond())
		return record.profilePath, nil
	}
	return "", fmt.Errorf("no previous profile to roll back to")
}
