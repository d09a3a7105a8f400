// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the "pandora archive" subcommands: the
// standalone pack/unpack/list tooling over the .pnd container format,
// used by package authors and for poking at downloaded archives.
package archive

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bureau-foundation/pandora/cmd/pandora/cli"
	"github.com/bureau-foundation/pandora/lib/archive"
)

// Command returns the top-level "archive" command.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Pack, unpack, and inspect .pnd archives",
		Description: `Work with .pnd package archives directly.

Packing stores regular files and symlinks; directories are walked
depth-first and device nodes are skipped. Unpacking sanitizes every
stored path — entries that would escape the destination are skipped,
never written.`,
		Subcommands: []*cli.Command{
			packCommand(),
			unpackCommand(),
			listCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Pack a build tree into an archive",
				Command:     "pandora archive pack snake-1.0.pnd ./snake-build",
			},
			{
				Description: "Extract into a directory",
				Command:     "pandora archive unpack snake-1.0.pnd ./out",
			},
			{
				Description: "List entries without extracting",
				Command:     "pandora archive list snake-1.0.pnd",
			},
		},
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:    "pack",
		Summary: "Create an archive from files and directories",
		Usage:   "pandora archive pack <archive.pnd> <file-or-dir>...",
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("pack requires an archive name and at least one input")
			}
			logger := cli.NewLogger(false)
			warn := func(format string, warnArgs ...any) {
				logger.Warn(fmt.Sprintf(format, warnArgs...))
			}
			if err := archive.Pack(args[0], args[1:], warn); err != nil {
				return err
			}
			fmt.Printf("packed %s\n", args[0])
			return nil
		},
	}
}

func unpackCommand() *cli.Command {
	return &cli.Command{
		Name:    "unpack",
		Summary: "Extract an archive into a directory",
		Usage:   "pandora archive unpack <archive.pnd> [destdir]",
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("unpack requires an archive name")
			}
			dest := "."
			if len(args) >= 2 {
				dest = args[1]
			}
			result, err := archive.Unpack(args[0], dest)
			if err != nil {
				return err
			}
			for _, path := range result.Accepted {
				fmt.Printf("extracted: %s\n", path)
			}
			if result.Skipped > 0 {
				fmt.Fprintf(os.Stderr, "skipped %d entries with unsafe paths\n", result.Skipped)
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List archive entries",
		Usage:   "pandora archive list <archive.pnd>",
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("list requires an archive name")
			}
			entries, err := archive.List(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "PATH\tSIZE\tTYPE\n")
			for _, entry := range entries {
				kind := "file"
				if entry.IsSymlink() {
					kind = "symlink"
				}
				fmt.Fprintf(tw, "%q\t%d\t%s\n", entry.Path, entry.Size, kind)
			}
			return tw.Flush()
		},
	}
}
