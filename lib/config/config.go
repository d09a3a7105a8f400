// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the optional user settings file at
// R/config.jsonc. Settings only provide defaults — index_url, profile
// and assume_yes are overridable by command-line flags (cache_compression
// has no flag), and a missing file yields [Defaults]. JSONC (comments and trailing commas) keeps
// the file hand-editable.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// FileName is the settings file name under the Pandora root.
const FileName = "config.jsonc"

// Settings are the recognized user settings.
type Settings struct {
	// IndexURL is the default registry index, used when --index is
	// not given.
	IndexURL string `json:"index_url"`

	// Profile is the default profile label for activations.
	Profile string `json:"profile"`

	// AssumeYes skips interactive confirmation prompts, like passing
	// -y to every command.
	AssumeYes bool `json:"assume_yes"`

	// CacheCompression names the compression for cached archives:
	// none, lz4, or zstd.
	CacheCompression string `json:"cache_compression"`
}

// Defaults returns the settings used when no file exists.
func Defaults() *Settings {
	return &Settings{
		Profile:          "default",
		CacheCompression: "zstd",
	}
}

// Load reads R/config.jsonc. A missing file returns [Defaults]; a
// present but unparseable file is an error rather than a silent
// fallback.
func Load(root string) (*Settings, error) {
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	settings := Defaults()
	if err := json.Unmarshal(jsonc.ToJSON(data), settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return settings, nil
}
