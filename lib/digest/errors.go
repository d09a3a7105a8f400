// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import "errors"

// ErrInvalidHex is wrapped by [Parse] when the input is not a valid
// hex encoding of a 32-byte digest.
var ErrInvalidHex = errors.New("invalid hex digest")

// ErrHashFailed is wrapped by [HashFile] when the underlying file
// cannot be opened or read.
var ErrHashFailed = errors.New("hash failed")
