// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// blobPath maps a vault key to its cache file. Keys contain path separators
// and other unfriendly characters, so the file name is the key's SHA-256.
func (s *Store) blobPath(vaultKey string) string {
	sum := sha256.Sum256([]byte(vaultKey))
	return filepath.Join(s.blobDir, hex.EncodeToString(sum[:])+".vault")
}

// WriteBlob atomically replaces the vault's cached encrypted container:
// write to a temporary file in the same directory, fsync, then rename over
// the existing blob. A crash mid-write never corrupts the last known-good
// container.
func (s *Store) WriteBlob(vaultKey string, blob []byte) error {
	target := s.blobPath(vaultKey)

	tmp, err := os.CreateTemp(s.blobDir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err = tmp.Write(blob); err != nil {
		cleanup()
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp blob: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp blob: %w", err)
	}

	if err = os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp blob: %w", err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename blob into place: %w", err)
	}
	return nil
}

// ReadBlob returns the cached encrypted container for the vault, verifying
// it against expectedHash when one is supplied. A hash mismatch means the
// cache is damaged and the caller must re-pull.
func (s *Store) ReadBlob(vaultKey, expectedHash string) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(vaultKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, vaultKey)
		}
		return nil, fmt.Errorf("read blob for %s: %w", vaultKey, err)
	}

	if expectedHash != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != expectedHash {
			return nil, fmt.Errorf("%w: %s", ErrBlobCorrupt, vaultKey)
		}
	}
	return data, nil
}

// DeleteBlob removes the cached container. Missing blobs are not an error.
func (s *Store) DeleteBlob(vaultKey string) error {
	if err := os.Remove(s.blobPath(vaultKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob for %s: %w", vaultKey, err)
	}
	return nil
}
