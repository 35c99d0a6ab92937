// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import "errors"

var (
	// ErrAuthentication is returned whenever GCM tag verification fails:
	// wrong key, flipped bit anywhere in the container, or a tampered
	// header. No partial plaintext is ever surfaced alongside it.
	ErrAuthentication = errors.New("container authentication failed")

	// ErrContainer is returned for blobs that are structurally invalid
	// before decryption is even attempted (truncated, impossible lengths).
	ErrContainer = errors.New("malformed container")

	// ErrUnsupportedVersion is returned when the container header declares a
	// format version this build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported container format version")

	// ErrUnsupportedKDF is returned when the header's kdf identifier does
	// not match a known key-derivation function.
	ErrUnsupportedKDF = errors.New("unsupported key derivation function")
)
