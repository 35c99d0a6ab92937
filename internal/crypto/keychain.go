// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package crypto turns a decrypted vault into a single opaque container blob
// and back, and derives the vault key from the user's master secret.
//
// Container layout (v1): header(43B) ‖ nonce(12B) ‖ ciphertext ‖ tag(16B).
// The header is authenticated as AAD but not encrypted; the salt it carries
// is not secret. Every Seal call generates a fresh random nonce from the OS
// CSPRNG — nonce reuse under a fixed key is the one invariant this package
// must enforce by construction, so no caller-supplied nonce path exists.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"runtime"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF identifies the key-derivation function recorded in the container
// header, so any device can re-derive the key from the master secret alone.
type KDF uint8

const (
	// KDFArgon2id is the default. Deliberately CPU/memory-heavy; run it off
	// the UI thread.
	KDFArgon2id KDF = 1

	// KDFPBKDF2 is the fallback for memory-constrained targets.
	KDFPBKDF2 KDF = 2
)

const keyLen = 32 // 256 bits

// Params holds the tunable KDF cost parameters. Stored in the struct so they
// can be adjusted per deployment target (e.g. mobile vs. desktop).
type Params struct {
	ArgonTime    uint32
	ArgonMemory  uint32 // KiB
	ArgonThreads uint8
	PBKDF2Iters  int
}

// DefaultParams returns the recommended cost parameters:
//   - Argon2id: time cost 3, memory 64 MiB, parallelism 2
//   - PBKDF2-HMAC-SHA256: 600,000 iterations
func DefaultParams() Params {
	return Params{
		ArgonTime:    3,
		ArgonMemory:  64 * 1024,
		ArgonThreads: 2,
		PBKDF2Iters:  600_000,
	}
}

// Key is derived vault key material. It exists only in memory while the
// vault is unlocked and must be wiped on lock or timeout.
type Key struct {
	kdf   KDF
	bytes []byte
}

// KDF returns the derivation function this key was produced with.
func (k *Key) KDF() KDF { return k.kdf }

// Wipe zeroes the key material. Best effort: the GC may have copied the
// slice earlier, but no live reference survives a Wipe.
func (k *Key) Wipe() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	k.bytes = nil
	runtime.KeepAlive(k)
}

// GenerateSalt reads 16 random bytes from the OS CSPRNG. Generated once per
// device at vault creation and stored unencrypted in the container header.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey derives a 256-bit vault key from the master secret and salt
// using the requested KDF. The result never leaves client memory.
func DeriveKey(masterSecret string, salt []byte, kdf KDF, p Params) (*Key, error) {
	switch kdf {
	case KDFArgon2id:
		return &Key{
			kdf:   kdf,
			bytes: argon2.IDKey([]byte(masterSecret), salt, p.ArgonTime, p.ArgonMemory, p.ArgonThreads, keyLen),
		}, nil
	case KDFPBKDF2:
		return &Key{
			kdf:   kdf,
			bytes: pbkdf2.Key([]byte(masterSecret), salt, p.PBKDF2Iters, keyLen, sha256.New),
		}, nil
	default:
		return nil, ErrUnsupportedKDF
	}
}

// Calibrate lowers the Argon2 memory cost until a single derivation fits the
// wall-clock budget, halving memory per attempt with a 16 MiB floor. Call it
// once at first run; persist the result in configuration.
func Calibrate(budget time.Duration, p Params) Params {
	const floorKiB = 16 * 1024

	salt := make([]byte, saltSize)
	for p.ArgonMemory > floorKiB {
		start := time.Now()
		argon2.IDKey([]byte("calibration"), salt, p.ArgonTime, p.ArgonMemory, p.ArgonThreads, keyLen)
		if time.Since(start) <= budget {
			break
		}
		p.ArgonMemory /= 2
	}
	return p
}
