// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

// writeKeyPair generates an ed25519 pair, writes the public half in
// OpenSSH format as <keysDir>/<id>.pub, and returns the private key.
func writeKeyPair(t *testing.T, keysDir, id string) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	if err := os.MkdirAll(keysDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keysDir, id+".pub"),
		ssh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return priv
}

func TestVerifyWithTrustedKey(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")
	priv := writeKeyPair(t, keysDir, "release")

	store, err := Load(keysDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.Empty() {
		t.Fatal("store loaded empty")
	}

	manifest := []byte("Manifest:\n  name: foo\n")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, manifest))

	keyID, err := store.Verify(manifest, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if keyID != "release" {
		t.Errorf("keyID = %q, want release", keyID)
	}
}

func TestVerifyRejectsTamperedManifest(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")
	priv := writeKeyPair(t, keysDir, "release")
	store, err := Load(keysDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("original")))
	if _, err := store.Verify([]byte("tampered"), sig); !errors.Is(err, ErrUntrusted) {
		t.Errorf("Verify(tampered) = %v, want ErrUntrusted", err)
	}
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")
	writeKeyPair(t, keysDir, "release")
	store, err := Load(keysDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, sig := range []string{"", "not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := store.Verify([]byte("m"), sig); !errors.Is(err, ErrUntrusted) {
			t.Errorf("Verify(sig %q) = %v, want ErrUntrusted", sig, err)
		}
	}
}

func TestEmptyStoreVerifiesVacuously(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "no-such-dir"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !store.Empty() {
		t.Fatal("missing directory must load as an empty store")
	}
	if _, err := store.Verify([]byte("anything"), ""); err != nil {
		t.Errorf("empty store Verify = %v, want nil", err)
	}
}

func TestLoadRejectsGarbageKey(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")
	if err := os.MkdirAll(keysDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keysDir, "junk.pub"), []byte("not a key"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(keysDir); !errors.Is(err, ErrBadKey) {
		t.Errorf("Load(garbage) = %v, want ErrBadKey", err)
	}
}

func TestSecondKeyAlsoTrusted(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")
	writeKeyPair(t, keysDir, "old")
	priv := writeKeyPair(t, keysDir, "new")
	store, err := Load(keysDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	manifest := []byte("doc")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, manifest))
	keyID, err := store.Verify(manifest, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if keyID != "new" {
		t.Errorf("keyID = %q, want new", keyID)
	}
}
