// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete Pandora CLI command tree.
package commands

import (
	"fmt"

	archivecmd "github.com/bureau-foundation/pandora/cmd/pandora/archive"
	"github.com/bureau-foundation/pandora/cmd/pandora/cli"
	pkgcmd "github.com/bureau-foundation/pandora/cmd/pandora/pkg"
	profilecmd "github.com/bureau-foundation/pandora/cmd/pandora/profile"
	systemcmd "github.com/bureau-foundation/pandora/cmd/pandora/system"
	"github.com/bureau-foundation/pandora/lib/version"
)

// Root builds and returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "pandora",
		Description: `Pandora: single-user, home-directory package manager.

Packages are fetched from a registry, verified, and materialized into
an immutable content-addressed store; selected sets are exposed
through symlink profiles that swap atomically and roll back.`,
		Subcommands: []*cli.Command{
			systemcmd.InitCommand(),
			pkgcmd.InstallCommand(),
			pkgcmd.FetchCommand(),
			pkgcmd.Command(),
			profilecmd.Command(),
			archivecmd.Command(),
			systemcmd.RecoverCommand(),
			systemcmd.RootCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "First-time setup",
				Command:     "pandora init --seed-vir",
			},
			{
				Description: "Install a package",
				Command:     "pandora install snake@1.0 --index https://pkgs.example/index.acl -y",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the pandora version",
		Run: func(args []string) error {
			fmt.Println(version.String())
			return nil
		},
	}
}
