// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkg implements the package verbs: install, fetch, list,
// and show. The commands are thin shells — resolution, verification,
// and the on-disk state machine all live in lib.
package pkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cenk/backoff"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/pandora/cmd/pandora/cli"
	"github.com/bureau-foundation/pandora/lib/config"
	"github.com/bureau-foundation/pandora/lib/fetch"
	"github.com/bureau-foundation/pandora/lib/install"
	"github.com/bureau-foundation/pandora/lib/layout"
	"github.com/bureau-foundation/pandora/lib/pkgcache"
	"github.com/bureau-foundation/pandora/lib/pkgref"
	"github.com/bureau-foundation/pandora/lib/registry"
	"github.com/bureau-foundation/pandora/lib/signature"
	"github.com/bureau-foundation/pandora/lib/store"
)

// Command returns the top-level "pkg" command.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "pkg",
		Summary: "Install, fetch, and inspect packages",
		Subcommands: []*cli.Command{
			installCommand(),
			fetchCommand(),
			listCommand(),
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Install a package and activate it",
				Command:     "pandora pkg install snake@1.0 --index https://pkgs.example/index.acl",
			},
			{
				Description: "Download and verify without installing",
				Command:     "pandora pkg fetch snake 1.0 --index https://pkgs.example/index.acl",
			},
		},
	}
}

// InstallCommand is the root-level "install" alias; the original CLI
// surface exposes install without the pkg prefix.
func InstallCommand() *cli.Command {
	command := installCommand()
	command.Usage = "pandora install <name@version> [flags]"
	return command
}

// FetchCommand is the root-level "fetch" alias.
func FetchCommand() *cli.Command {
	command := fetchCommand()
	command.Usage = "pandora fetch <name> <version> [flags]"
	return command
}

// installFlags carries the install verb's flag values.
type installFlags struct {
	index      string
	profile    string
	noActivate bool
	noDeps     bool
	assumeYes  bool
	verbose    bool
	retries    int
}

func (f *installFlags) flagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVar(&f.index, "index", "", "registry index URL (overrides config)")
	flags.StringVar(&f.profile, "profile", "", "profile label to activate into")
	flags.BoolVar(&f.noActivate, "no-activate", false, "import into the store without activating")
	flags.BoolVar(&f.noDeps, "no-deps", false, "skip the dependency closure")
	flags.BoolVarP(&f.assumeYes, "yes", "y", false, "answer yes to prompts")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	flags.IntVar(&f.retries, "retries", 0, "retry transient fetch failures up to N times")
	return flags
}

func installCommand() *cli.Command {
	flags := &installFlags{}
	return &cli.Command{
		Name:    "install",
		Summary: "Fetch, verify, and activate a package",
		Description: `Install a package: resolve it against the registry index, download
and verify the archive, import it into the immutable store, and swap
a new profile live. Every stage is atomic — an interrupted install
leaves the previous state untouched.`,
		Usage: "pandora pkg install <name@version> [flags]",
		Flags: func() *pflag.FlagSet { return flags.flagSet("install") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("install requires exactly one name@version argument")
			}
			ref, err := pkgref.Parse(args[0])
			if err != nil {
				return err
			}

			inst, settings, err := buildInstaller(flags.index, flags.verbose)
			if err != nil {
				return err
			}
			inst.NoActivate = flags.noActivate
			inst.NoDeps = flags.noDeps
			inst.Profile = settings.Profile
			if flags.profile != "" {
				inst.Profile = flags.profile
			}

			if !flags.noActivate {
				question := fmt.Sprintf("Install and activate %s into profile %q?", ref, inst.Profile)
				if !cli.Confirm(question, flags.assumeYes || settings.AssumeYes) {
					return fmt.Errorf("aborted")
				}
			}

			report, err := runWithRetries(func() (*install.Report, error) {
				return inst.Install(context.Background(), ref)
			}, flags.retries)
			if err != nil {
				return err
			}

			for _, installed := range report.Installed {
				fmt.Printf("installed %s -> %s\n", installed, report.StorePaths[installed])
			}
			if report.ProfilePath != "" {
				fmt.Printf("activated %s\n", report.ProfilePath)
			}
			return nil
		},
	}
}

// runWithRetries retries transient fetch failures with exponential
// backoff. Everything else — conflicts, digest mismatches, unsafe
// archives — is permanent and surfaces immediately. Retries live
// here, at the outermost caller, not in the pipeline.
func runWithRetries(attempt func() (*install.Report, error), retries int) (*install.Report, error) {
	var report *install.Report

	operation := func() error {
		var err error
		report, err = attempt()
		if err != nil && !errors.Is(err, fetch.ErrFetchFailed) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(policy, uint64(retries))); err != nil {
		if permanent, ok := err.(*backoff.PermanentError); ok {
			return nil, permanent.Err
		}
		return nil, err
	}
	return report, nil
}

func fetchCommand() *cli.Command {
	flags := &installFlags{}
	return &cli.Command{
		Name:    "fetch",
		Summary: "Download and verify a package without installing",
		Usage:   "pandora pkg fetch <name> <version> [flags]",
		Flags:   func() *pflag.FlagSet { return flags.flagSet("fetch") },
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("fetch requires name and version arguments")
			}
			ref, err := pkgref.New(args[0], args[1])
			if err != nil {
				return err
			}
			inst, _, err := buildInstaller(flags.index, flags.verbose)
			if err != nil {
				return err
			}
			d, err := inst.Fetch(context.Background(), ref)
			if err != nil {
				return err
			}
			fmt.Printf("fetched %s sha256=%s\n", ref, d)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List installed packages",
		Run: func(args []string) error {
			root, err := layout.Root()
			if err != nil {
				return err
			}
			st, err := store.New(root)
			if err != nil {
				return err
			}
			entries, err := st.Entries()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tVERSION\tSHA256\tFILES\n")
			for _, entry := range entries {
				sha, files := "?", "?"
				if entry.Meta != nil {
					sha = entry.Meta.SHA256[:12]
					files = fmt.Sprintf("%d", entry.Meta.EntryCount)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.Ref.Name, entry.Ref.Version, sha, files)
			}
			return tw.Flush()
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Show one installed package",
		Usage:   "pandora pkg show <name@version>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("show requires a name@version argument")
			}
			ref, err := pkgref.Parse(args[0])
			if err != nil {
				return err
			}
			root, err := layout.Root()
			if err != nil {
				return err
			}
			st, err := store.New(root)
			if err != nil {
				return err
			}
			if !st.Has(ref) {
				fmt.Printf("%s is not installed\n", ref)
				return &cli.ExitError{Code: 1}
			}
			fmt.Printf("path: %s\n", st.EntryPath(ref))
			if meta, err := st.ReadMeta(ref); err == nil {
				fmt.Printf("sha256: %s\n", meta.SHA256)
				fmt.Printf("size: %d bytes in %d files\n", meta.Size, meta.EntryCount)
				fmt.Printf("imported: %s\n", time.Unix(meta.ImportedAt, 0).Format(time.RFC3339))
			}
			if err := st.Verify(ref); err != nil {
				fmt.Printf("integrity: FAILED (%v)\n", err)
				return &cli.ExitError{Code: 1}
			}
			fmt.Printf("integrity: ok\n")
			return nil
		},
	}
}

// buildInstaller wires the install pipeline against the discovered
// root, running the idempotent bootstrap first so a fresh machine
// works without an explicit init.
func buildInstaller(indexFlag string, verbose bool) (*install.Installer, *config.Settings, error) {
	root, err := layout.Root()
	if err != nil {
		return nil, nil, err
	}
	if err := layout.Init(root, false); err != nil {
		return nil, nil, err
	}

	settings, err := config.Load(root)
	if err != nil {
		return nil, nil, err
	}

	indexURL := settings.IndexURL
	if indexFlag != "" {
		indexURL = indexFlag
	}
	if indexURL == "" {
		return nil, nil, fmt.Errorf("no index URL: pass --index or set index_url in %s",
			filepath.Join(root, config.FileName))
	}

	fetcher := fetch.NewFetcher(filepath.Join(root, "tmp"), nil)
	client := registry.NewClient(fetcher)
	client.SetIndex(indexURL)

	st, err := store.New(root)
	if err != nil {
		return nil, nil, err
	}
	cache, err := pkgcache.New(filepath.Join(root, "cache"))
	if err != nil {
		return nil, nil, err
	}
	trust, err := signature.Load(filepath.Join(root, "keys"))
	if err != nil {
		return nil, nil, err
	}
	tag, err := pkgcache.ParseTag(settings.CacheCompression)
	if err != nil {
		return nil, nil, err
	}

	return &install.Installer{
		Root:     root,
		Registry: client,
		Fetcher:  fetcher,
		Store:    st,
		Cache:    cache,
		Trust:    trust,
		Logger:   cli.NewLogger(verbose),
		CacheTag: tag,
		Profile:  settings.Profile,
	}, settings, nil
}
