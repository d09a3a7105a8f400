// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile implements the profile verbs: activate a set of
// installed packages, list profiles, show the live one, and roll back
// to the previous activation.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/pandora/cmd/pandora/cli"
	"github.com/bureau-foundation/pandora/lib/archive"
	"github.com/bureau-foundation/pandora/lib/layout"
	"github.com/bureau-foundation/pandora/lib/pkgref"
	"github.com/bureau-foundation/pandora/lib/profile"
	"github.com/bureau-foundation/pandora/lib/store"
)

// Command returns the top-level "profile" command.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "profile",
		Summary: "Assemble, activate, and roll back profiles",
		Description: `Manage the symlink profiles that expose installed packages.

A profile is assembled in a hidden temp directory, conflict-checked,
and made live by atomically swapping the vir pointer. Superseded
profiles stay on disk and remain rollback targets.`,
		Subcommands: []*cli.Command{
			activateCommand(),
			listCommand(),
			rollbackCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Activate two installed packages together",
				Command:     "pandora profile activate snake@1.0 vim@9 --profile games",
			},
			{
				Description: "Return to the previous profile",
				Command:     "pandora profile rollback",
			},
		},
	}
}

func activateCommand() *cli.Command {
	var label string
	return &cli.Command{
		Name:    "activate",
		Summary: "Build and activate a profile from installed packages",
		Usage:   "pandora profile activate <name@version>... [--profile <label>]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("activate", pflag.ContinueOnError)
			flags.StringVar(&label, "profile", "default", "profile label")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("activate requires at least one name@version argument")
			}
			root, err := layout.Root()
			if err != nil {
				return err
			}
			st, err := store.New(root)
			if err != nil {
				return err
			}

			lock, err := layout.Acquire(root)
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := layout.Sweep(root); err != nil {
				return err
			}

			var entries []profile.Entry
			for _, spec := range args {
				ref, err := pkgref.Parse(spec)
				if err != nil {
					return err
				}
				if !st.Has(ref) {
					return fmt.Errorf("%s is not installed", ref)
				}
				refEntries, err := entriesFor(st, ref)
				if err != nil {
					return err
				}
				entries = append(entries, refEntries...)
			}

			tmpProfile, err := profile.Assemble(root, entries)
			if err != nil {
				return err
			}
			activation, err := profile.Activate(root, tmpProfile, label)
			if err != nil {
				os.RemoveAll(tmpProfile)
				return err
			}
			fmt.Printf("activated %s\n", activation.ProfilePath)
			return nil
		},
	}
}

// entriesFor expands one store entry's recorded file list into
// profile links.
func entriesFor(st *store.Store, ref pkgref.Ref) ([]profile.Entry, error) {
	listing, err := os.ReadFile(filepath.Join(st.EntryPath(ref), archive.ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading file list of %s: %w", ref, err)
	}
	filesPath := st.FilesPath(ref)
	var entries []profile.Entry
	for _, line := range strings.Split(strings.TrimRight(string(listing), "\n"), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, profile.Entry{
			RelPath:    line,
			TargetPath: filepath.Join(filesPath, filepath.FromSlash(line)),
			PkgName:    ref.Name,
			PkgVersion: ref.Version,
		})
	}
	return entries, nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List profiles",
		Run: func(args []string) error {
			root, err := layout.Root()
			if err != nil {
				return err
			}
			infos, err := profile.List(root)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "PROFILE\tLIVE\n")
			for _, info := range infos {
				marker := ""
				if info.Live {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\n", info.Name, marker)
			}
			return tw.Flush()
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:    "rollback",
		Summary: "Repoint the live profile at the previous activation",
		Run: func(args []string) error {
			root, err := layout.Root()
			if err != nil {
				return err
			}
			lock, err := layout.Acquire(root)
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := layout.Sweep(root); err != nil {
				return err
			}
			restored, err := profile.Rollback(root)
			if err != nil {
				return err
			}
			fmt.Printf("rolled back to %s\n", restored)
			return nil
		},
	}
}
