// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package system implements the layout verbs: init, recover, and
// root.
package system

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/pandora/cmd/pandora/cli"
	"github.com/bureau-foundation/pandora/lib/layout"
)

// InitCommand returns the root-level "init" command.
func InitCommand() *cli.Command {
	var seed bool
	return &cli.Command{
		Name:    "init",
		Summary: "Create the Pandora directory layout",
		Description: `Idempotently create the Pandora root and its subdirectories
(store, profiles, manifests, cache, tmp, keys). With --seed-vir, a
placeholder profile with empty bin/ and lib/ is created and the live
pointer aimed at it.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flags.BoolVar(&seed, "seed-vir", false, "seed a placeholder live profile")
			return flags
		},
		Run: func(args []string) error {
			root, err := layout.Root()
			if err != nil {
				return err
			}
			if err := layout.Init(root, false); err != nil {
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
			if err := layout.Init(root, seed); err != nil {
				return err
			}
			fmt.Printf("initialized %s\n", root)
			return nil
		},
	}
}

// RecoverCommand returns the root-level "recover" command.
func RecoverCommand() *cli.Command {
	return &cli.Command{
		Name:    "recover",
		Summary: "Sweep debris left by interrupted runs",
		Description: `Remove in-flight import and profile temp directories, a vir-new
pointer left mid-swap, and stale download partials. Runs under the
mutation lock; every mutating command performs the same sweep on
entry, so this exists for manual cleanup and post-crash inspection.`,
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
			fmt.Printf("swept %s\n", root)
			return nil
		},
	}
}

// RootCommand returns the root-level "root" command, printing the
// discovered Pandora root.
func RootCommand() *cli.Command {
	return &cli.Command{
		Name:    "root",
		Summary: "Print the Pandora root directory",
		Run: func(args []string) error {
			root, err := layout.Root()
			if err != nil {
				return err
			}
			fmt.Println(root)
			return nil
		},
	}
}
