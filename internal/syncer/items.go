// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-vault-sync/internal/crypto"
	"github.com/MKhiriev/go-vault-sync/models"
)

// PutItem adds or updates an item in an open vault. The edit is applied to
// the in-memory vault, journaled, queued as a pending op, and persisted to
// the encrypted cache immediately, so it survives a crash while offline.
// The deferred push fires after the debounce window.
func (s *Syncer) PutItem(ctx context.Context, vaultKey, itemID string, payload json.RawMessage) (models.VaultItem, error) {
	if itemID == "" {
		itemID = uuid.NewString()
	}

	var item models.VaultItem
	err := s.mutate(ctx, vaultKey, func(vault *models.Vault) (string, models.Operation) {
		op := models.OpAdd
		if existing, ok := vault.Items[itemID]; ok && !existing.Deleted {
			op = models.OpUpdate
		}

		item = models.VaultItem{
			ItemID:          itemID,
			Payload:         payload,
			UpdatedAtUtc:    time.Now().UTC(),
			UpdatedByDevice: s.cfg.DeviceID.String(),
		}
		vault.Items[itemID] = item
		return itemID, op
	})
	if err != nil {
		return models.VaultItem{}, err
	}
	return item, nil
}

// DeleteItem tombstones an item. The record stays in the vault so the
// deletion propagates to other devices; a concurrent remote update wins over
// the tombstone during reconciliation.
func (s *Syncer) DeleteItem(ctx context.Context, vaultKey, itemID string) error {
	return s.mutate(ctx, vaultKey, func(vault *models.Vault) (string, models.Operation) {
		item := vault.Items[itemID]
		item.ItemID = itemID
		item.Deleted = true
		item.UpdatedAtUtc = time.Now().UTC()
		item.UpdatedByDevice = s.cfg.DeviceID.String()
		vault.Items[itemID] = item
		return itemID, models.OpDelete
	})
}

// GetItem returns one live item.
func (s *Syncer) GetItem(vaultKey, itemID string) (models.VaultItem, error) {
	sess, err := s.session(vaultKey)
	if err != nil {
		return models.VaultItem{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.locked() {
		return models.VaultItem{}, fmt.Errorf("%w: %s", ErrVaultLocked, vaultKey)
	}

	item, ok := sess.vault.Items[itemID]
	if !ok || item.Deleted {
		return models.VaultItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return item, nil
}

// ListItems returns all live items, shadow copies included.
func (s *Syncer) ListItems(vaultKey string) ([]models.VaultItem, error) {
	sess, err := s.session(vaultKey)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.locked() {
		return nil, fmt.Errorf("%w: %s", ErrVaultLocked, vaultKey)
	}

	out := make([]models.VaultItem, 0, len(sess.vault.Items))
	for _, item := range sess.vault.Items {
		if !item.Deleted {
			out = append(out, item)
		}
	}
	return out, nil
}

// mutate runs one edit under the session lock: apply, journal, enqueue,
// reseal the cache, then arm the debounced push.
func (s *Syncer) mutate(ctx context.Context, vaultKey string, apply func(*models.Vault) (string, models.Operation)) error {
	sess, err := s.session(vaultKey)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.locked() {
		return fmt.Errorf("%w: %s", ErrVaultLocked, vaultKey)
	}

	itemID, op := apply(sess.vault)

	deviceID := s.cfg.DeviceID.String()
	changeID, err := s.store.NextChangeID(ctx, vaultKey, deviceID)
	if err != nil {
		return err
	}

	entry := models.ChangeJournalEntry{
		ItemID:       itemID,
		ChangeID:     changeID,
		Operation:    op,
		TimestampUtc: time.Now().UTC(),
		DeviceID:     deviceID,
	}
	sess.vault.Journal = append(sess.vault.Journal, entry)

	if err = s.store.AppendJournal(ctx, vaultKey, entry); err != nil {
		return err
	}
	if _, err = s.store.EnqueuePendingOp(ctx, models.PendingOp{
		VaultKey:  vaultKey,
		ItemID:    itemID,
		Operation: op,
		QueuedUtc: entry.TimestampUtc,
	}); err != nil {
		return err
	}

	// Reseal so the edit is durable before any network activity. The stored
	// content hash must follow the blob, or the cache fails verification on
	// the next unlock.
	blob, err := crypto.Seal(sess.vault, sess.key, sess.header)
	if err != nil {
		return fmt.Errorf("seal after edit: %w", err)
	}
	if err = s.store.WriteBlob(vaultKey, blob); err != nil {
		return err
	}
	if err = s.store.SetLocalContentHash(ctx, vaultKey, crypto.ContentHash(blob)); err != nil {
		return err
	}

	s.armDebounce(vaultKey, sess)
	return nil
}

// armDebounce (re)starts the deferred-push timer. Each further edit within
// the window pushes the deadline out, so bursts coalesce into one cycle.
// Callers hold sess.mu.
func (s *Syncer) armDebounce(vaultKey string, sess *session) {
	if sess.debounce != nil {
		sess.debounce.Stop()
	}
	sess.debounce = time.AfterFunc(s.cfg.Debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.SyncWithRetry(ctx, vaultKey); err != nil {
			s.logger.Warn().Str("vault", vaultKey).Err(err).Msg("deferred push failed")
		}
	})
}
