// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File persists secrets as individual AES-256-GCM-sealed files in a
// directory. The device key must be 32 bytes and is supplied once at
// construction; losing it makes every stored secret unreadable.
type File struct {
	dir string
	gcm cipher.AEAD
}

// NewFile creates the directory (0700) if needed and prepares the cipher.
func NewFile(dir string, deviceKey []byte) (*File, error) {
	if len(deviceKey) != 32 {
		return nil, fmt.Errorf("device key must be 32 bytes, got %d", len(deviceKey))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}

	block, err := aes.NewCipher(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init secret gcm: %w", err)
	}
	return &File{dir: dir, gcm: gcm}, nil
}

// Store implements SecretStore. The entry is sealed with a fresh nonce and
// the entry name bound as additional data, so a file renamed on disk fails
// to open.
func (f *File) Store(name string, secret []byte) error {
	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate secret nonce: %w", err)
	}

	sealed := f.gcm.Seal(nonce, nonce, secret, []byte(name))
	if err := os.WriteFile(f.path(name), sealed, 0o600); err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}

// Retrieve implements SecretStore.
func (f *File) Retrieve(name string) ([]byte, error) {
	sealed, err := os.ReadFile(f.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	if len(sealed) < f.gcm.NonceSize() {
		return nil, fmt.Errorf("secret %s: sealed entry too short", name)
	}

	nonce, ciphertext := sealed[:f.gcm.NonceSize()], sealed[f.gcm.NonceSize():]
	secret, err := f.gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("open secret %s: %w", name, err)
	}
	return secret, nil
}

// Delete implements SecretStore. Deleting a missing entry is not an error.
func (f *File) Delete(name string) error {
	if err := os.Remove(f.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// path hashes the entry name so arbitrary names map to safe file names.
func (f *File) path(name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".secret")
}
