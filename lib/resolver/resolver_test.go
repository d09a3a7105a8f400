// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/pandora/lib/pkgref"
)

// graphDeps builds a DepsFunc from a spec → deps-spec map.
func graphDeps(graph map[string][]string) DepsFunc {
	return func(ctx context.Context, ref pkgref.Ref) ([]pkgref.Ref, error) {
		specs, ok := graph[ref.String()]
		if !ok {
			return nil, fmt.Errorf("unknown package %s", ref)
		}
		var deps []pkgref.Ref
		for _, spec := range specs {
			dep, err := pkgref.Parse(spec)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dep)
		}
		return deps, nil
	}
}

func TestClosureOrdersDepsFirst(t *testing.T) {
	deps := graphDeps(map[string][]string{
		"app@1":  {"libb@2", "libc@3"},
		"libb@2": {"libc@3"},
		"libc@3": {},
	})

	order, err := Closure(context.Background(), pkgref.Ref{Name: "app", Version: "1"}, deps)
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}

	position := make(map[string]int)
	for i, ref := range order {
		position[ref.String()] = i
	}
	if len(order) != 3 {
		t.Fatalf("closure size = %d, want 3 (%v)", len(order), order)
	}
	if position["libc@3"] > position["libb@2"] || position["libb@2"] > position["app@1"] {
		t.Errorf("order = %v, want deps before dependents", order)
	}
	if order[len(order)-1].Name != "app" {
		t.Errorf("root must come last, got %v", order)
	}
}

func TestClosureSharedDepOnce(t *testing.T) {
	deps := graphDeps(map[string][]string{
		"app@1":  {"liba@1", "libb@1"},
		"liba@1": {"libz@1"},
		"libb@1": {"libz@1"},
		"libz@1": {},
	})
	order, err := Closure(context.Background(), pkgref.Ref{Name: "app", Version: "1"}, deps)
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	count := 0
	for _, ref := range order {
		if ref.Name == "libz" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("shared dep appears %d times, want 1 (%v)", count, order)
	}
}

func TestClosureDetectsCycle(t *testing.T) {
	deps := graphDeps(map[string][]string{
		"a@1": {"b@1"},
		"b@1": {"a@1"},
	})
	_, err := Closure(context.Background(), pkgref.Ref{Name: "a", Version: "1"}, deps)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("Closure(cycle) = %v, want ErrDependencyCycle", err)
	}
}

func TestClosureDetectsVersionClash(t *testing.T) {
	deps := graphDeps(map[string][]string{
		"app@1":  {"liba@1", "libb@1"},
		"liba@1": {"libz@1"},
		"libb@1": {"libz@2"},
		"libz@1": {},
		"libz@2": {},
	})
	_, err := Closure(context.Background(), pkgref.Ref{Name: "app", Version: "1"}, deps)
	if !errors.Is(err, ErrVersionClash) {
		t.Errorf("Closure(clash) = %v, want ErrVersionClash", err)
	}
}

func TestClosurePropagatesDepsError(t *testing.T) {
	deps := graphDeps(map[string][]string{
		"app@1": {"ghost@9"},
	})
	_, err := Closure(context.Background(), pkgref.Ref{Name: "app", Version: "1"}, deps)
	if err == nil {
		t.Error("Closure with unknown dep must fail")
	}
}

func TestClosureLeafPackage(t *testing.T) {
	deps := graphDeps(map[string][]string{"solo@1": {}})
	order, err := Closure(context.Background(), pkgref.Ref{Name: "solo", Version: "1"}, deps)
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if len(order) != 1 || order[0].String() != "solo@1" {
		t.Errorf("order = %v, want [solo@1]", order)
	}
}
