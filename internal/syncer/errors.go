// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import "errors"

var (
	// ErrVaultNotOpen is returned for operations on a vault with no session.
	ErrVaultNotOpen = errors.New("vault not open")

	// ErrVaultLocked is returned for content operations while the vault key
	// is wiped. The session still exists; Unlock restores access.
	ErrVaultLocked = errors.New("vault locked")

	// ErrPushRace is returned when the bounded pull-merge-push loop keeps
	// losing the conditional upload to concurrent writers.
	ErrPushRace = errors.New("push retry budget exhausted")

	// ErrUnknownProvider is returned when no adapter is registered for a
	// vault's backend kind.
	ErrUnknownProvider = errors.New("unknown provider kind")

	// ErrItemNotFound is returned by item reads for absent or tombstoned IDs.
	ErrItemNotFound = errors.New("item not found")
)
