// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries the build version stamp.
package version

// Version is the pandora version, overridden at build time with
//
//	go build -ldflags "-X github.com/bureau-foundation/pandora/lib/version.Version=v1.2.3"
var Version = "dev"

// String returns the version for display.
func String() string {
	return "pandora " + Version
}
