package models

import (
	"encoding/json"
	"time"
)

// VaultItem is an opaque, application-defined secret record. The sync engine
// never interprets Payload beyond treating it as an atomic unit for conflict
// purposes.
type VaultItem struct {
	ItemID          string          `json:"item_id"`
	Payload         json.RawMessage `json:"payload"`
	UpdatedAtUtc    time.Time       `json:"updated_at_utc"`
	UpdatedByDevice string          `json:"updated_by_device"`
	Deleted         bool            `json:"deleted,omitempty"`

	// ConflictOf is set on shadow copies: the ItemID of the item this record
	// lost a merge against. Empty for regular items.
	ConflictOf string `json:"conflict_of,omitempty"`
}

// Vault is the full decrypted state of one logical vault: its metadata, the
// item set keyed by ItemID, and the change journal.
type Vault struct {
	Metadata VaultMetadata        `json:"metadata"`
	Items    map[string]VaultItem `json:"items"`
	Journal  []ChangeJournalEntry `json:"journal"`
}

// NewVault returns an empty vault for the given metadata.
func NewVault(meta VaultMetadata) *Vault {
	return &Vault{
		Metadata: meta,
		Items:    make(map[string]VaultItem),
	}
}

// MarshalCanonical serializes the vault to its canonical byte form: JSON with
// map keys sorted (encoding/json guarantees key order for maps) and the
// journal in (DeviceID, ChangeID) order. Two vaults with equal content always
// produce identical bytes, so the ciphertext content hash is stable.
func (v *Vault) MarshalCanonical() ([]byte, error) {
	cp := *v
	cp.Journal = SortedJournal(v.Journal)
	return json.Marshal(&cp)
}

// UnmarshalVault decodes the canonical byte form produced by
// MarshalCanonical. The Items map is always non-nil on success.
func UnmarshalVault(data []byte) (*Vault, error) {
	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Items == nil {
		v.Items = make(map[string]VaultItem)
	}
	return &v, nil
}

// Clone returns a deep copy of the vault. The resolver mutates clones so a
// failed sync cycle never leaves a half-merged vault in memory.
func (v *Vault) Clone() *Vault {
	cp := &Vault{
		Metadata: v.Metadata,
		Items:    make(map[string]VaultItem, len(v.Items)),
		Journal:  make([]ChangeJournalEntry, len(v.Journal)),
	}
	for id, item := range v.Items {
		cp.Items[id] = item
	}
	copy(cp.Journal, v.Journal)
	return cp
}
