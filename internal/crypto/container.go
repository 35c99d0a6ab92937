// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/MKhiriev/go-vault-sync/models"
)

// Seal serializes the vault to its canonical byte form and encrypts it with
// AES-256-GCM under key, binding the header into the authentication tag as
// AAD. A fresh 96-bit nonce is generated from the OS CSPRNG on every call.
// The returned blob is header ‖ nonce ‖ ciphertext ‖ tag.
func Seal(vault *models.Vault, key *Key, header Header) ([]byte, error) {
	plaintext, err := vault.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("marshal vault: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aad := header.MarshalBinary()
	blob := make([]byte, 0, headerSize+nonceSize+len(plaintext)+tagSize)
	blob = append(blob, aad...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, aad)
	return blob, nil
}

// Open verifies and decrypts a container blob produced by Seal. The tag is
// verified before any plaintext is returned; a mismatch anywhere in header,
// nonce, ciphertext or tag yields ErrAuthentication and nothing else.
func Open(blob []byte, key *Key) (*models.Vault, Header, error) {
	header, err := UnmarshalHeader(blob)
	if err != nil {
		return nil, Header{}, err
	}
	if len(blob) < headerSize+nonceSize+tagSize {
		return nil, Header{}, fmt.Errorf("%w: %d bytes", ErrContainer, len(blob))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, Header{}, err
	}

	aad := blob[:headerSize]
	nonce := blob[headerSize : headerSize+nonceSize]
	ciphertext := blob[headerSize+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		// Wrong key, corrupt container or tampered header: all collapse to
		// a single hard authentication failure.
		return nil, Header{}, ErrAuthentication
	}

	vault, err := models.UnmarshalVault(plaintext)
	if err != nil {
		return nil, Header{}, fmt.Errorf("decode vault: %w", err)
	}
	return vault, header, nil
}

// ContentHash returns the hex-encoded SHA-256 digest of a container blob.
// Stored as SyncState.LocalContentHash after every successful seal.
func ContentHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func newGCM(key *Key) (cipher.AEAD, error) {
	if key == nil || len(key.bytes) != keyLen {
		return nil, fmt.Errorf("%w: key is wiped or wrong size", ErrContainer)
	}

	block, err := aes.NewCipher(key.bytes)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
