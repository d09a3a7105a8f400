// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver computes the exact-pair dependency closure of a
// package: the manifest's deps list names precise (name, version)
// pairs, those pairs name more pairs, and the closure is everything
// reachable. There is no version solving — a pair either exists in
// the registry or the closure fails.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// ErrDependencyCycle is wrapped when the dependency graph loops back
// on itself.
var ErrDependencyCycle = errors.New("dependency cycle")

// ErrVersionClash is wrapped when the closure needs two different
// versions of the same package. Exact-pair closure has no way to
// reconcile them, and a profile could not link both anyway.
var ErrVersionClash = errors.New("conflicting versions in closure")

// DepsFunc returns the direct dependencies of one package version,
// normally by fetching and parsing its manifest.
type DepsFunc func(ctx context.Context, ref pkgref.Ref) ([]pkgref.Ref, error)

// Closure resolves the full dependency closure of root and returns
// it in install order: dependencies strictly before their dependents,
// root last. Duplicate edges to the same exact pair are fine; two
// different versions of one name, or a cycle, are errors.
func Closure(ctx context.Context, root pkgref.Ref, deps DepsFunc) ([]pkgref.Ref, error) {
	if err := root.Validate(); err != nil {
		return nil, err
	}

	versions := map[string]string{root.Name: root.Version}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[pkgref.Ref]int)
	var order []pkgref.Ref

	var visit func(ref pkgref.Ref, chain []pkgref.Ref) error
	visit = func(ref pkgref.Ref, chain []pkgref.Ref) error {
		switch state[ref] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s depends on itself via %s",
				ErrDependencyCycle, ref, formatChain(chain, ref))
		}
		state[ref] = visiting

		direct, err := deps(ctx, ref)
		if err != nil {
			return fmt.Errorf("resolving deps of %s: %w", ref, err)
		}
		for _, dep := range direct {
			if err := dep.Validate(); err != nil {
				return fmt.Errorf("deps of %s: %w", ref, err)
			}
			if existing, seen := versions[dep.Name]; seen && existing != dep.Version {
				return fmt.Errorf("%w: %s needed at both %s and %s",
					ErrVersionClash, dep.Name, existing, dep.Version)
			}
			versions[dep.Name] = dep.Version
			if err := visit(dep, append(chain, ref)); err != nil {
				return err
			}
		}

		state[ref] = done
		order = append(order, ref)
		return nil
	}

	if err := visit(root, nil); err != nil {
		return nil, err
	}
	return order, nil
}

func formatChain(chain []pkgref.Ref, last pkgref.Ref) string {
	out := ""
	for _, ref := range chain {
		out += ref.String() + " -> "
	}
	return out + last.String()
}
