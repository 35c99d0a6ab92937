// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import "errors"

var (
	// ErrVaultNotFound is returned when no local record exists for the
	// requested vault key.
	ErrVaultNotFound = errors.New("vault not found in local store")

	// ErrBlobNotFound is returned when the encrypted container cache has no
	// blob for the vault.
	ErrBlobNotFound = errors.New("cached vault blob not found")

	// ErrBlobCorrupt is returned when the cached blob fails its stored
	// content-hash check. The caller must re-pull from the backend.
	ErrBlobCorrupt = errors.New("cached vault blob corrupt")
)
