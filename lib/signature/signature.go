// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature verifies detached ed25519 signatures over
// manifest documents against the trust store at R/keys.
//
// Keys are OpenSSH-format ed25519 public keys, one per
// R/keys/<keyid>.pub file. A signature file holds the base64-encoded
// raw 64-byte ed25519 signature over the exact manifest bytes as
// fetched. The trust policy is decided by provisioning: an empty or
// absent trust store disables signature checking and the manifest
// digest remains the sole integrity gate; once any key is present,
// every manifest must carry a valid signature from a trusted key.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrUntrusted is wrapped when no trusted key validates the
	// signature, or the signature is missing while keys are
	// provisioned.
	ErrUntrusted = errors.New("manifest signature not trusted")

	// ErrBadKey is wrapped for unparseable or non-ed25519 key files.
	ErrBadKey = errors.New("invalid trust store key")
)

// TrustStore is the loaded set of trusted verification keys.
type TrustStore struct {
	keys map[string]ed25519.PublicKey // keyid (file stem) → key
}

// Load reads every *.pub file under keysDir. A missing directory
// loads as an empty store. Unparseable keys are errors — a
// half-loaded trust store must not silently weaken verification.
func Load(keysDir string) (*TrustStore, error) {
	store := &TrustStore{keys: make(map[string]ed25519.PublicKey)}

	entries, err := os.ReadDir(keysDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("reading trust store %s: %w", keysDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".pub") {
			continue
		}
		path := filepath.Join(keysDir, name)
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("reading key %s: %w", path, readErr)
		}
		key, parseErr := parseKey(data)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadKey, path, parseErr)
		}
		store.keys[strings.TrimSuffix(name, ".pub")] = key
	}
	return store, nil
}

// parseKey accepts an OpenSSH public key line and unwraps it to the
// underlying ed25519 key.
func parseKey(data []byte) (ed25519.PublicKey, error) {
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, err
	}
	cryptoKey, ok := parsed.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("key type %s has no crypto form", parsed.Type())
	}
	edKey, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key type %s is not ed25519", parsed.Type())
	}
	return edKey, nil
}

// Empty reports whether the store holds no keys (signature checking
// disabled).
func (t *TrustStore) Empty() bool {
	return len(t.keys) == 0
}

// KeyIDs returns the loaded key identifiers, for diagnostics.
func (t *TrustStore) KeyIDs() []string {
	ids := make([]string, 0, len(t.keys))
	for id := range t.keys {
		ids = append(ids, id)
	}
	return ids
}

// Verify checks a base64-encoded detached signature over the exact
// manifest bytes. With an empty trust store it succeeds vacuously.
// Otherwise the signature must decode to 64 bytes and validate under
// at least one trusted key; the matching key id is returned.
func (t *TrustStore) Verify(manifest []byte, sigBase64 string) (string, error) {
	if t.Empty() {
		return "", nil
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigBase64))
	if err != nil {
		return "", fmt.Errorf("%w: undecodable signature: %v", ErrUntrusted, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return "", fmt.Errorf("%w: signature is %d bytes, want %d",
			ErrUntrusted, len(sig), ed25519.SignatureSize)
	}

	for id, key := range t.keys {
		if ed25519.Verify(key, manifest, sig) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no key in the trust store validates it", ErrUntrusted)
}
