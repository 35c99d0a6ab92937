// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// FormatVersionV1 is the only container format version this build
	// produces and accepts.
	FormatVersionV1 = 1

	// CipherAESGCM identifies AES-256-GCM in the header's cipher slot.
	CipherAESGCM = 1

	saltSize   = 16
	headerSize = 3 + saltSize + 16 + 8 // version + cipher + kdf + salt + device id + created
	nonceSize  = 12
	tagSize    = 16
)

// Header is the authenticated-but-unencrypted prefix of every vault
// container. It is fed to AES-GCM as additional authenticated data, so any
// header tampering invalidates decryption of the whole blob. The salt is not
// secret; it lets any device of the same user re-derive the key.
type Header struct {
	FormatVersion uint8
	CipherID      uint8
	KDFID         uint8
	Salt          [saltSize]byte
	DeviceID      uuid.UUID
	CreatedUtc    int64
}

// NewHeader returns a v1 AES-GCM header for the given KDF, salt and device.
func NewHeader(kdf KDF, salt []byte, deviceID uuid.UUID, createdUtc int64) (Header, error) {
	if len(salt) != saltSize {
		return Header{}, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrContainer, saltSize, len(salt))
	}

	h := Header{
		FormatVersion: FormatVersionV1,
		CipherID:      CipherAESGCM,
		KDFID:         uint8(kdf),
		DeviceID:      deviceID,
		CreatedUtc:    createdUtc,
	}
	copy(h.Salt[:], salt)
	return h, nil
}

// MarshalBinary encodes the header into its fixed 43-byte wire form:
// version(1) cipher(1) kdf(1) salt(16) device(16) created(8, big-endian).
func (h Header) MarshalBinary() []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.FormatVersion
	buf[1] = h.CipherID
	buf[2] = h.KDFID
	copy(buf[3:3+saltSize], h.Salt[:])
	copy(buf[3+saltSize:3+saltSize+16], h.DeviceID[:])
	binary.BigEndian.PutUint64(buf[3+saltSize+16:], uint64(h.CreatedUtc))
	return buf
}

// UnmarshalHeader decodes the fixed-size header prefix of a container blob.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes, want at least %d", ErrContainer, len(data), headerSize)
	}

	var h Header
	h.FormatVersion = data[0]
	h.CipherID = data[1]
	h.KDFID = data[2]
	copy(h.Salt[:], data[3:3+saltSize])
	copy(h.DeviceID[:], data[3+saltSize:3+saltSize+16])
	h.CreatedUtc = int64(binary.BigEndian.Uint64(data[3+saltSize+16 : headerSize]))

	if h.FormatVersion != FormatVersionV1 {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.FormatVersion)
	}
	return h, nil
}
