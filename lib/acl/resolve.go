// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// referencePattern matches ${dotted.path} references inside string
// values.
var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// maxResolvePasses bounds chained references (a reference to a value
// that itself contains a reference). Exceeding it means a cycle.
const maxResolvePasses = 16

// Resolve substitutes ${path} references in string values, in place,
// across the whole document. References may name any path reachable
// from the document root and may chain through other referenced
// values. Unresolvable references and reference cycles are errors.
func (b *Block) Resolve() error {
	for pass := 0; pass < maxResolvePasses; pass++ {
		changed, err := b.resolvePass()
		if err != nil {
			return err
		}
		if !changed {
			// Self-referencing values substitute to themselves and
			// stop changing; catch them (and anything else left
			// unexpanded) here rather than looping forever.
			if leftover := b.findReference(); leftover != "" {
				return fmt.Errorf("%w: reference cycle through %s", ErrParseFailed, leftover)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: reference cycle detected", ErrParseFailed)
}

// findReference returns the first ${...} still present in any string
// value, or "" if the document is fully resolved.
func (b *Block) findReference() string {
	var found string
	var walk func(node any)
	walk = func(node any) {
		if found != "" {
			return
		}
		switch v := node.(type) {
		case string:
			if match := referencePattern.FindString(v); match != "" {
				found = match
			}
		case map[string]any:
			for _, value := range v {
				walk(value)
			}
		case []any:
			for _, value := range v {
				walk(value)
			}
		}
	}
	walk(b.root)
	return found
}

func (b *Block) resolvePass() (bool, error) {
	changed := false
	var walk func(node any) error
	walk = func(node any) error {
		switch v := node.(type) {
		case map[string]any:
			for key, value := range v {
				if text, ok := value.(string); ok {
					resolved, didChange, err := b.resolveString(text)
					if err != nil {
						return err
					}
					if didChange {
						v[key] = resolved
						changed = true
					}
					continue
				}
				if err := walk(value); err != nil {
					return err
				}
			}
		case []any:
			for i, value := range v {
				if text, ok := value.(string); ok {
					resolved, didChange, err := b.resolveString(text)
					if err != nil {
						return err
					}
					if didChange {
						v[i] = resolved
						changed = true
					}
					continue
				}
				if err := walk(value); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(b.root); err != nil {
		return false, err
	}
	return changed, nil
}

// resolveString substitutes every reference in one string value. A
// referenced value still containing references is substituted as-is;
// the next pass picks it up.
func (b *Block) resolveString(text string) (string, bool, error) {
	if !strings.Contains(text, "${") {
		return text, false, nil
	}

	var firstErr error
	resolved := referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := match[2 : len(match)-1]
		value, err := b.lookup(path)
		if err != nil {
			firstErr = fmt.Errorf("%w: unresolvable reference %s: %v", ErrParseFailed, match, err)
			return match
		}
		text, err := scalarToString(value)
		if err != nil {
			firstErr = fmt.Errorf("reference %s: %w", match, err)
			return match
		}
		return text
	})
	if firstErr != nil {
		return "", false, firstErr
	}
	return resolved, resolved != text, nil
}

func scalarToString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("%w: referenced value is %T, not a scalar", ErrValueMalformed, value)
	}
}
