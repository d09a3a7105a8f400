// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package acl provides the configuration-block provider behind
// Pandora's registry index and package manifests (the .acl files).
// Blocks are plain data parsed from YAML syntax; integrity comes from
// the manifest digest and signature, never from the format itself.
//
// Lookups use dotted path expressions. A segment is a case-sensitive
// key name optionally followed by selectors: `["literal"]` for a
// named lookup and `[N]` for array indexing, either of which may
// appear at any segment:
//
//	Registry.Package["gcc"].Version["13.2"].manifest_url
//	Modules.load[0]
//
// Missing keys report [ErrKeyNotFound]; present-but-wrong-type values
// report [ErrValueMalformed]. The two never overlap, so callers can
// distinguish "try the next lookup path" from "this index is broken".
package acl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrParseFailed is wrapped when a document cannot be parsed.
	ErrParseFailed = errors.New("config parse failed")

	// ErrKeyNotFound is wrapped when a path expression names a key or
	// index that does not exist.
	ErrKeyNotFound = errors.New("config key not found")

	// ErrValueMalformed is wrapped when a path resolves to a value of
	// the wrong type for the requested getter.
	ErrValueMalformed = errors.New("config value malformed")
)

// Block is a parsed configuration document. The zero value is not
// usable; construct with [ParseFile] or [ParseString]. A Block owned
// by a cache (the registry client's index) must be treated read-only
// by other callers.
type Block struct {
	root any
}

// ParseFile parses the document at path.
func ParseFile(path string) (*Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrParseFailed, path, err)
	}
	block, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return block, nil
}

// ParseString parses an in-memory document.
func ParseString(text string) (*Block, error) {
	return parse([]byte(text))
}

func parse(data []byte) (*Block, error) {
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return &Block{root: root}, nil
}

// GetString returns the string value at path.
func (b *Block) GetString(path string) (string, error) {
	value, err := b.lookup(path)
	if err != nil {
		return "", err
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrValueMalformed, path, value)
	}
	return text, nil
}

// GetInt returns the integer value at path.
func (b *Block) GetInt(path string) (int64, error) {
	value, err := b.lookup(path)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, want integer", ErrValueMalformed, path, value)
	}
}

// GetFloat returns the floating-point value at path. Integer values
// widen without error.
func (b *Block) GetFloat(path string) (float64, error) {
	value, err := b.lookup(path)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, want float", ErrValueMalformed, path, value)
	}
}

// GetBool returns the boolean value at path.
func (b *Block) GetBool(path string) (bool, error) {
	value, err := b.lookup(path)
	if err != nil {
		return false, err
	}
	flag, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T, want bool", ErrValueMalformed, path, value)
	}
	return flag, nil
}

// lookup walks the parsed tree along a path expression.
func (b *Block) lookup(path string) (any, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return descend(b.root, segments, path)
}

func descend(node any, segments []segment, path string) (any, error) {
	current := node
	for _, seg := range segments {
		if seg.name != "" {
			mapping, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: cannot index %T with key %q",
					ErrValueMalformed, path, current, seg.name)
			}
			next, present := mapping[seg.name]
			if !present {
				return nil, fmt.Errorf("%w: %s: no key %q", ErrKeyNotFound, path, seg.name)
			}
			current = next
		}
		for _, sel := range seg.selectors {
			if sel.isIndex {
				list, ok := current.([]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s: cannot index %T with [%d]",
						ErrValueMalformed, path, current, sel.index)
				}
				if sel.index < 0 || sel.index >= len(list) {
					return nil, fmt.Errorf("%w: %s: index %d out of range (%d elements)",
						ErrKeyNotFound, path, sel.index, len(list))
				}
				current = list[sel.index]
				continue
			}
			mapping, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: cannot index %T with [%q]",
					ErrValueMalformed, path, current, sel.literal)
			}
			next, present := mapping[sel.literal]
			if !present {
				return nil, fmt.Errorf("%w: %s: no entry %q", ErrKeyNotFound, path, sel.literal)
			}
			current = next
		}
	}
	return current, nil
}

// segment is one dot-separated piece of a path expression: an
// optional key name plus any number of trailing selectors.
type segment struct {
	name      string
	selectors []selector
}

type selector struct {
	isIndex bool
	index   int
	literal string
}

// splitPath tokenizes a path expression. Dots inside quoted literals
// do not separate segments.
func splitPath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path expression", ErrKeyNotFound)
	}

	var segments []segment
	rest := path
	for len(rest) > 0 {
		seg, remaining, err := parseSegment(rest, path)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		rest = remaining
	}
	return segments, nil
}

func parseSegment(input, full string) (segment, string, error) {
	var seg segment

	// Key name: everything up to the next '.', '[' or end.
	end := strings.IndexAny(input, ".[")
	switch {
	case end == -1:
		seg.name = input
		return seg, "", nil
	case end > 0:
		seg.name = input[:end]
		input = input[end:]
	case input[0] == '.':
		return seg, "", fmt.Errorf("%w: empty segment in %q", ErrKeyNotFound, full)
	}

	// Selectors.
	for len(input) > 0 && input[0] == '[' {
		closing := strings.IndexByte(input, ']')
		if closing == -1 {
			return seg, "", fmt.Errorf("%w: unterminated selector in %q", ErrKeyNotFound, full)
		}
		body := input[1:closing]
		input = input[closing+1:]

		if strings.HasPrefix(body, `"`) {
			if !strings.HasSuffix(body, `"`) || len(body) < 2 {
				return seg, "", fmt.Errorf("%w: unterminated literal in %q", ErrKeyNotFound, full)
			}
			seg.selectors = append(seg.selectors, selector{literal: body[1 : len(body)-1]})
			continue
		}
		index, err := strconv.Atoi(body)
		if err != nil {
			return seg, "", fmt.Errorf("%w: selector %q in %q is neither a literal nor an index",
				ErrKeyNotFound, body, full)
		}
		seg.selectors = append(seg.selectors, selector{isIndex: true, index: index})
	}

	if len(input) > 0 {
		if input[0] != '.' {
			return seg, "", fmt.Errorf("%w: unexpected %q in %q", ErrKeyNotFound, input[0], full)
		}
		input = input[1:]
		if input == "" {
			return seg, "", fmt.Errorf("%w: trailing dot in %q", ErrKeyNotFound, full)
		}
	}
	return seg, input, nil
}
