// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package install orchestrates the pipeline that turns a registry
// entry into a live profile: index lookup, manifest fetch and
// signature check, archive download with digest verification, store
// import, profile assembly, and activation. Each stage is a
// checkpoint — a failure leaves everything to its right untouched,
// so the on-disk state is always fully old or fully new.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/pandora/lib/archive"
	"github.com/bureau-foundation/pandora/lib/digest"
	"github.com/bureau-foundation/pandora/lib/fetch"
	"github.com/bureau-foundation/pandora/lib/layout"
	"github.com/bureau-foundation/pandora/lib/pkgcache"
	"github.com/bureau-foundation/pandora/lib/pkgref"
	"github.com/bureau-foundation/pandora/lib/profile"
	"github.com/bureau-foundation/pandora/lib/registry"
	"github.com/bureau-foundation/pandora/lib/resolver"
	"github.com/bureau-foundation/pandora/lib/signature"
	"github.com/bureau-foundation/pandora/lib/store"
)

// ErrHashMismatch is wrapped when a downloaded archive's digest does
// not match the manifest's sha256. The archive is discarded and the
// store is never touched.
var ErrHashMismatch = errors.New("package digest mismatch")

// Installer holds the collaborators of one install pipeline run.
type Installer struct {
	Root     string
	Registry *registry.Client
	Fetcher  *fetch.Fetcher
	Store    *store.Store
	Cache    *pkgcache.Cache
	Trust    *signature.TrustStore
	Logger   *slog.Logger

	// CacheTag selects the compression for newly cached archives.
	CacheTag pkgcache.Tag

	// Profile is the activation label.
	Profile string

	// NoActivate stops after the store import.
	NoActivate bool

	// NoDeps installs only the named package, skipping the closure.
	NoDeps bool

	// manifests caches parsed manifests within one run so the
	// resolver and the install loop fetch each one once.
	manifests map[pkgref.Ref]*registry.Manifest
}

// Report summarizes a completed install.
type Report struct {
	// Installed lists every ref placed in (or already present in)
	// the store, in install order.
	Installed []pkgref.Ref

	// StorePaths maps each installed ref to its store entry.
	StorePaths map[pkgref.Ref]string

	// ProfilePath is the activated profile, or "" with NoActivate.
	ProfilePath string
}

func (inst *Installer) logger() *slog.Logger {
	if inst.Logger != nil {
		return inst.Logger
	}
	return slog.Default()
}

// Install runs the full pipeline for ref under the mutation lock:
// recovery sweep, dependency closure, per-package fetch-verify-import,
// then profile assembly and activation over the whole closure.
func (inst *Installer) Install(ctx context.Context, ref pkgref.Ref) (*Report, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	lock, err := layout.Acquire(inst.Root)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := layout.Sweep(inst.Root); err != nil {
		return nil, fmt.Errorf("recovery sweep: %w", err)
	}

	closure := []pkgref.Ref{ref}
	if !inst.NoDeps {
		closure, err = resolver.Closure(ctx, ref, inst.dependencies)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{StorePaths: make(map[pkgref.Ref]string)}
	for _, member := range closure {
		storePath, err := inst.installOne(ctx, member)
		if err != nil {
			return nil, err
		}
		report.Installed = append(report.Installed, member)
		report.StorePaths[member] = storePath
	}

	if inst.NoActivate {
		return report, nil
	}

	profilePath, err := inst.activate(closure)
	if err != nil {
		return nil, err
	}
	report.ProfilePath = profilePath
	return report, nil
}

// Fetch resolves and downloads a package without importing it: the
// manifest lands under R/manifests and the verified archive in the
// cache. No lock is needed — neither store/ nor profiles/ is touched.
func (inst *Installer) Fetch(ctx context.Context, ref pkgref.Ref) (digest.Digest, error) {
	if err := ref.Validate(); err != nil {
		return digest.Digest{}, err
	}
	manifest, err := inst.manifestFor(ctx, ref)
	if err != nil {
		return digest.Digest{}, err
	}
	archivePath, _, err := inst.obtainArchive(ctx, ref, manifest)
	if err != nil {
		return digest.Digest{}, err
	}
	// The verified copy now lives in the cache; the materialized
	// temp file has served its purpose.
	os.Remove(archivePath)
	return manifest.SHA256, nil
}

// installOne fetches, verifies, and imports a single closure member.
func (inst *Installer) installOne(ctx context.Context, ref pkgref.Ref) (string, error) {
	manifest, err := inst.manifestFor(ctx, ref)
	if err != nil {
		return "", err
	}

	// Idempotent fast path: already published with the right digest.
	if inst.Store.Has(ref) {
		if meta, metaErr := inst.Store.ReadMeta(ref); metaErr == nil {
			if recorded, digestErr := meta.Digest(); digestErr == nil && digest.Equal(recorded, manifest.SHA256) {
				inst.logger().Info("already installed", "package", ref.String())
				return inst.Store.EntryPath(ref), nil
			}
		}
	}

	archivePath, _, err := inst.obtainArchive(ctx, ref, manifest)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	storePath, err := inst.Store.Import(archivePath, ref, manifest.SHA256)
	if err != nil {
		return "", err
	}
	inst.logger().Info("imported", "package", ref.String(), "store_path", storePath)
	return storePath, nil
}

// obtainArchive produces a verified local archive file for ref: from
// the cache when possible, otherwise fetched and then cached. The
// returned file's digest always equals the manifest's sha256; the
// caller owns (and removes) the file.
func (inst *Installer) obtainArchive(ctx context.Context, ref pkgref.Ref, manifest *registry.Manifest) (string, bool, error) {
	pkgURL, err := inst.pkgURL(ctx, ref, manifest)
	if err != nil {
		return "", false, err
	}

	tmpDir := filepath.Join(inst.Root, "tmp")
	if cached, ok, cacheErr := inst.Cache.Get(pkgURL, tmpDir); cacheErr == nil && ok {
		cachedDigest, hashErr := digest.HashFile(cached)
		if hashErr == nil && digest.Equal(cachedDigest, manifest.SHA256) {
			inst.logger().Info("using cached archive", "package", ref.String())
			return cached, true, nil
		}
		// Stale cache (registry republished or digest drift): drop
		// the materialized copy and fall through to the network.
		os.Remove(cached)
	} else if cacheErr != nil {
		return "", false, cacheErr
	}

	inst.logger().Info("downloading", "package", ref.String(), "url", pkgURL)
	archivePath, actual, err := inst.Fetcher.Fetch(ctx, pkgURL)
	if err != nil {
		return "", false, err
	}
	if !digest.Equal(actual, manifest.SHA256) {
		os.Remove(archivePath)
		return "", false, fmt.Errorf("%w: %s expected %s, got %s",
			ErrHashMismatch, ref, manifest.SHA256, actual)
	}

	if err := inst.Cache.Put(pkgURL, archivePath, inst.CacheTag); err != nil {
		// Cache trouble never fails an install.
		inst.logger().Warn("caching failed", "package", ref.String(), "error", err)
	}
	return archivePath, false, nil
}

// manifestFor fetches, verifies, and parses the manifest of ref,
// memoizing per run. The manifest file is saved under R/manifests for
// later inspection.
func (inst *Installer) manifestFor(ctx context.Context, ref pkgref.Ref) (*registry.Manifest, error) {
	if manifest, ok := inst.manifests[ref]; ok {
		return manifest, nil
	}

	index, err := inst.Registry.FetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	manifestURL, err := registry.FindManifestURL(index, ref.Name, ref.Version)
	if err != nil {
		return nil, err
	}

	block, raw, err := inst.Registry.FetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	if err := inst.verifySignature(ctx, manifestURL, raw); err != nil {
		return nil, err
	}

	manifest, err := registry.ParseManifest(block)
	if err != nil {
		return nil, err
	}
	if manifest.Ref != ref {
		return nil, fmt.Errorf("%w: index names %s but manifest describes %s",
			registry.ErrBadManifest, ref, manifest.Ref)
	}

	inst.saveManifest(ref, raw)

	if inst.manifests == nil {
		inst.manifests = make(map[pkgref.Ref]*registry.Manifest)
	}
	inst.manifests[ref] = manifest
	return manifest, nil
}

// verifySignature enforces the trust policy: with keys provisioned, a
// manifest must carry a valid detached signature at <manifest_url>.sig.
func (inst *Installer) verifySignature(ctx context.Context, manifestURL string, raw []byte) error {
	if inst.Trust == nil || inst.Trust.Empty() {
		return nil
	}

	sigBytes, _, err := inst.Fetcher.FetchBytes(ctx, manifestURL+".sig")
	if err != nil {
		return fmt.Errorf("%w: no signature at %s.sig: %v",
			signature.ErrUntrusted, manifestURL, err)
	}
	keyID, err := inst.Trust.Verify(raw, string(sigBytes))
	if err != nil {
		return err
	}
	inst.logger().Info("manifest signature verified", "key", keyID)
	return nil
}

// saveManifest records the manifest document under R/manifests. Best
// effort: the install does not depend on it.
func (inst *Installer) saveManifest(ref pkgref.Ref, raw []byte) {
	dir := filepath.Join(inst.Root, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s-%s-manifest.acl", ref.Name, ref.Version)
	os.WriteFile(filepath.Join(dir, name), raw, 0o644)
}

// pkgURL prefers the manifest's own pkg_url and falls back to the
// index lookup (including base-URL construction).
func (inst *Installer) pkgURL(ctx context.Context, ref pkgref.Ref, manifest *registry.Manifest) (string, error) {
	if manifest.PkgURL != "" {
		return manifest.PkgURL, nil
	}
	index, err := inst.Registry.FetchIndex(ctx)
	if err != nil {
		return "", err
	}
	return registry.FindPkgURL(index, ref.Name, ref.Version)
}

// dependencies adapts manifest fetching to the resolver.
func (inst *Installer) dependencies(ctx context.Context, ref pkgref.Ref) ([]pkgref.Ref, error) {
	manifest, err := inst.manifestFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	return manifest.Deps, nil
}

// activate assembles a profile over the whole closure — one link per
// recorded file of every member — and swaps it live.
func (inst *Installer) activate(closure []pkgref.Ref) (string, error) {
	var entries []profile.Entry
	for _, member := range closure {
		memberEntries, err := inst.profileEntries(member)
		if err != nil {
			return "", err
		}
		entries = append(entries, memberEntries...)
	}

	tmpProfile, err := profile.Assemble(inst.Root, entries)
	if err != nil {
		return "", err
	}

	activation, err := profile.Activate(inst.Root, tmpProfile, inst.Profile)
	if err != nil {
		// The temp profile is still ours to clean up.
		os.RemoveAll(tmpProfile)
		return "", err
	}
	inst.logger().Info("activated", "profile", activation.ProfilePath)
	return activation.ProfilePath, nil
}

// profileEntries turns a store entry's recorded file list into
// profile links.
func (inst *Installer) profileEntries(ref pkgref.Ref) ([]profile.Entry, error) {
	listing, err := os.ReadFile(filepath.Join(inst.Store.EntryPath(ref), archive.ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading file list of %s: %w", ref, err)
	}

	filesPath := inst.Store.FilesPath(ref)
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
