package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-vault-sync/models"
)

// testParams keeps KDF cost negligible so the suite stays fast. Production
// defaults are exercised once in TestDeriveKey_Defaults.
var testParams = Params{
	ArgonTime:    1,
	ArgonMemory:  8 * 1024,
	ArgonThreads: 1,
	PBKDF2Iters:  1_000,
}

func testVault(t *testing.T) *models.Vault {
	t.Helper()

	v := models.NewVault(models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   "/vaults/personal.bin",
			ProviderKind: models.ProviderMemory,
			AccountID:    "acc-1",
		},
		DisplayName:   "personal",
		FormatVersion: FormatVersionV1,
	})
	v.Items["11111111-1111-1111-1111-111111111111"] = models.VaultItem{
		ItemID:          "11111111-1111-1111-1111-111111111111",
		Payload:         json.RawMessage(`{"title":"mail","secret":"s3cr3t"}`),
		UpdatedAtUtc:    time.Unix(100, 0).UTC(),
		UpdatedByDevice: "device-a",
	}
	v.Journal = append(v.Journal, models.ChangeJournalEntry{
		ItemID:       "11111111-1111-1111-1111-111111111111",
		ChangeID:     1,
		Operation:    models.OpAdd,
		TimestampUtc: time.Unix(100, 0).UTC(),
		DeviceID:     "device-a",
	})
	return v
}

func testKeyAndHeader(t *testing.T) (*Key, Header) {
	t.Helper()

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt error: %v", err)
	}
	key, err := DeriveKey("correct horse battery staple", salt, KDFArgon2id, testParams)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	header, err := NewHeader(KDFArgon2id, salt, uuid.New(), time.Now().Unix())
	if err != nil {
		t.Fatalf("NewHeader error: %v", err)
	}
	return key, header
}

func TestSealOpen_RoundTrip(t *testing.T) {
	vault := testVault(t)
	key, header := testKeyAndHeader(t)

	blob, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	got, gotHeader, err := Open(blob, key)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header round trip mismatch: got %+v want %+v", gotHeader, header)
	}

	wantBytes, _ := vault.MarshalCanonical()
	gotBytes, _ := got.MarshalCanonical()
	if !bytes.Equal(wantBytes, gotBytes) {
		t.Fatalf("vault round trip mismatch:\n got %s\nwant %s", gotBytes, wantBytes)
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	vault := testVault(t)
	key, header := testKeyAndHeader(t)

	b1, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	b2, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	n1 := b1[headerSize : headerSize+nonceSize]
	n2 := b2[headerSize : headerSize+nonceSize]
	if bytes.Equal(n1, n2) {
		t.Fatalf("expected distinct nonces for two Seal calls")
	}
}

// TestOpen_TamperDetection flips one bit in every region of the container
// (header, nonce, ciphertext, tag) and requires a hard authentication
// failure each time.
func TestOpen_TamperDetection(t *testing.T) {
	vault := testVault(t)
	key, header := testKeyAndHeader(t)

	blob, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	regions := map[string]int{
		"header/salt":   5,
		"header/device": 3 + saltSize + 2,
		"nonce":         headerSize + 4,
		"ciphertext":    headerSize + nonceSize + 1,
		"tag":           len(blob) - 1,
	}

	for name, offset := range regions {
		t.Run(name, func(t *testing.T) {
			tampered := make([]byte, len(blob))
			copy(tampered, blob)
			tampered[offset] ^= 0x01

			_, _, err := Open(tampered, key)
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("Open(tampered %s) error = %v, want ErrAuthentication", name, err)
			}
		})
	}
}

func TestOpen_WrongKey(t *testing.T) {
	vault := testVault(t)
	key, header := testKeyAndHeader(t)

	blob, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	wrong, err := DeriveKey("wrong password", header.Salt[:], KDFArgon2id, testParams)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	if _, _, err := Open(blob, wrong); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Open with wrong key error = %v, want ErrAuthentication", err)
	}
}

func TestOpen_TruncatedBlob(t *testing.T) {
	if _, _, err := Open([]byte{FormatVersionV1, CipherAESGCM}, &Key{kdf: KDFArgon2id, bytes: make([]byte, keyLen)}); !errors.Is(err, ErrContainer) {
		t.Fatalf("Open(truncated) error = %v, want ErrContainer", err)
	}
}

func TestOpen_UnsupportedVersion(t *testing.T) {
	vault := testVault(t)
	key, header := testKeyAndHeader(t)

	blob, err := Seal(vault, key, header)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	blob[0] = 99

	if _, _, err := Open(blob, key); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Open(v99) error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDeriveKey_PBKDF2Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0xAB}, saltSize)

	k1, err := DeriveKey("pw", salt, KDFPBKDF2, testParams)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	k2, err := DeriveKey("pw", salt, KDFPBKDF2, testParams)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	if !bytes.Equal(k1.bytes, k2.bytes) {
		t.Fatalf("expected deterministic PBKDF2 derivation")
	}
	if len(k1.bytes) != keyLen {
		t.Fatalf("key length = %d, want %d", len(k1.bytes), keyLen)
	}
}

func TestDeriveKey_UnsupportedKDF(t *testing.T) {
	if _, err := DeriveKey("pw", make([]byte, saltSize), KDF(42), testParams); !errors.Is(err, ErrUnsupportedKDF) {
		t.Fatalf("DeriveKey(kdf=42) error = %v, want ErrUnsupportedKDF", err)
	}
}

func TestKey_Wipe(t *testing.T) {
	key, header := testKeyAndHeader(t)
	key.Wipe()

	if _, err := Seal(testVault(t), key, header); err == nil {
		t.Fatalf("expected Seal with wiped key to fail")
	}
}

func TestContentHash_StableAndSensitive(t *testing.T) {
	blob := []byte("container bytes")

	h1 := ContentHash(blob)
	h2 := ContentHash(blob)
	if h1 != h2 {
		t.Fatalf("ContentHash not stable: %s vs %s", h1, h2)
	}

	blob[0] ^= 0x01
	if ContentHash(blob) == h1 {
		t.Fatalf("ContentHash unchanged after mutation")
	}
}

func TestHeader_BinaryRoundTrip(t *testing.T) {
	salt := bytes.Repeat([]byte{0x0F}, saltSize)
	h, err := NewHeader(KDFPBKDF2, salt, uuid.New(), 1700000000)
	if err != nil {
		t.Fatalf("NewHeader error: %v", err)
	}

	got, err := UnmarshalHeader(h.MarshalBinary())
	if err != nil {
		t.Fatalf("UnmarshalHeader error: %v", err)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v want %+v", got, h)
	}
}
