// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkgref defines the (name, version) pair that is the primary
// key for packages throughout Pandora: store entries, profile links,
// registry lookups, and dependency closure all key on it.
package pkgref

import (
	"errors"
	"fmt"
	"strings"
)

// maxComponentLen bounds name and version length. Both end up as
// single path components under store/, so they must stay well inside
// filename limits.
const maxComponentLen = 255

// ErrInvalidInput is wrapped for malformed names, versions, and
// name@version specs.
var ErrInvalidInput = errors.New("invalid package reference")

// Ref identifies one package version.
type Ref struct {
	Name    string
	Version string
}

// String returns the name@version spec form.
func (r Ref) String() string {
	return r.Name + "@" + r.Version
}

// Parse splits a name@version spec and validates both halves.
func Parse(spec string) (Ref, error) {
	at := strings.Index(spec, "@")
	if at < 0 {
		return Ref{}, fmt.Errorf("%w: %q is not name@version", ErrInvalidInput, spec)
	}
	ref := Ref{Name: spec[:at], Version: spec[at+1:]}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// New validates and returns a Ref from its parts.
func New(name, version string) (Ref, error) {
	ref := Ref{Name: name, Version: version}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Validate checks both components. Names and versions become path
// components under store/, so they must be non-empty, short, and free
// of separators, NUL, and parent traversal.
func (r Ref) Validate() error {
	if err := validateComponent("name", r.Name); err != nil {
		return err
	}
	return validateComponent("version", r.Version)
}

func validateComponent(kind, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidInput, kind)
	case len(value) > maxComponentLen:
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidInput, kind, maxComponentLen)
	case strings.ContainsAny(value, "/\x00"):
		return fmt.Errorf("%w: %s %q contains a separator or NUL", ErrInvalidInput, kind, value)
	case value == "..", value == ".":
		return fmt.Errorf("%w: %s %q is a relative path component", ErrInvalidInput, kind, value)
	case strings.Contains(value, ".."):
		return fmt.Errorf("%w: %s %q contains parent traversal", ErrInvalidInput, kind, value)
	}
	return nil
}
