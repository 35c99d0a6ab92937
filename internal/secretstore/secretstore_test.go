// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package secretstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testDeviceKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory()

	if err := m.Store("oauth/webdav/alice", []byte("token-1")); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := m.Retrieve("oauth/webdav/alice")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if string(got) != "token-1" {
		t.Errorf("expected token-1, got %q", got)
	}
}

func TestMemory_RetrieveMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Retrieve("missing")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestMemory_RetrieveReturnsCopy(t *testing.T) {
	m := NewMemory()

	if err := m.Store("k", []byte("original")); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, _ := m.Retrieve("k")
	got[0] = 'X'

	again, _ := m.Retrieve("k")
	if string(again) != "original" {
		t.Errorf("stored secret mutated through returned slice: %q", again)
	}
}

func TestFile_RoundTrip(t *testing.T) {
	f, err := NewFile(t.TempDir(), testDeviceKey())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	secret := []byte("refresh-token-xyz")
	if err = f.Store("oauth/drive/bob", secret); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := f.Retrieve("oauth/drive/bob")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("secret mismatch: got %q", got)
	}
}

func TestFile_SealedOnDisk(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, testDeviceKey())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	secret := []byte("plaintext-token")
	if err = f.Store("k", secret); err != nil {
		t.Fatalf("store: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one secret file, got %d (err=%v)", len(entries), err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, secret) {
		t.Error("secret stored in plaintext on disk")
	}

	info, _ := entries[0].Info()
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 perms, got %o", perm)
	}
}

func TestFile_WrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, testDeviceKey())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err = f.Store("k", []byte("secret")); err != nil {
		t.Fatalf("store: %v", err)
	}

	other := testDeviceKey()
	other[0] ^= 0xFF
	f2, err := NewFile(dir, other)
	if err != nil {
		t.Fatalf("new file store with other key: %v", err)
	}

	if _, err = f2.Retrieve("k"); err == nil {
		t.Fatal("expected open failure with wrong device key, got nil")
	}
}

func TestFile_NameBoundToEntry(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, testDeviceKey())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err = f.Store("a", []byte("secret")); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Rename the sealed file to another entry's slot; the AAD binding must
	// reject it.
	entries, _ := os.ReadDir(dir)
	renamed := f.path("b")
	if err = os.Rename(filepath.Join(dir, entries[0].Name()), renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, err = f.Retrieve("b"); err == nil {
		t.Fatal("expected renamed entry to fail authentication, got nil")
	}
}

func TestFile_BadKeyLength(t *testing.T) {
	if _, err := NewFile(t.TempDir(), []byte("short")); err == nil {
		t.Fatal("expected error for short device key, got nil")
	}
}

func TestFile_DeleteIsIdempotent(t *testing.T) {
	f, err := NewFile(t.TempDir(), testDeviceKey())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err = f.Store("k", []byte("v")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err = f.Delete("k"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err = f.Delete("k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err = f.Retrieve("k"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}
