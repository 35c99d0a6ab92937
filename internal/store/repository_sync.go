// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-vault-sync/models"
)

// GetSyncState loads the per-vault sync bookkeeping record. A vault that has
// never synced yields a zero-valued state with the key set, not an error.
func (s *Store) GetSyncState(ctx context.Context, vaultKey string) (models.SyncState, error) {
	query, args, err := s.builder.
		Select("last_sync_utc", "local_content_hash", "remote_revision_tag").
		From("sync_states").
		Where(sq.Eq{"vault_key": vaultKey}).
		ToSql()
	if err != nil {
		return models.SyncState{}, fmt.Errorf("build get sync state query: %w", err)
	}

	state := models.SyncState{VaultKey: vaultKey}
	var lastSync sql.NullTime
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&lastSync, &state.LocalContentHash, &state.RemoteRevisionTag)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return models.SyncState{}, fmt.Errorf("get sync state %s: %w", vaultKey, err)
	}

	if lastSync.Valid {
		state.LastSyncUtc = lastSync.Time.UTC()
	}
	return state, nil
}

// SetLocalContentHash records the hash of a freshly resealed cache blob,
// keeping the rest of the sync state untouched. Called after every local
// edit so the cached container stays verifiable before it is pushed.
func (s *Store) SetLocalContentHash(ctx context.Context, vaultKey, hash string) error {
	query, args, err := s.builder.
		Insert("sync_states").
		Columns("vault_key", "local_content_hash").
		Values(vaultKey, hash).
		Suffix("ON CONFLICT (vault_key) DO UPDATE SET local_content_hash = excluded.local_content_hash").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set content hash query: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set content hash %s: %w", vaultKey, err)
	}
	return nil
}

// EnqueuePendingOp records a local mutation awaiting a confirmed push and
// returns its queue ID.
func (s *Store) EnqueuePendingOp(ctx context.Context, op models.PendingOp) (int64, error) {
	query, args, err := s.builder.
		Insert("pending_ops").
		Columns("vault_key", "item_id", "operation", "queued_utc").
		Values(op.VaultKey, op.ItemID, string(op.Operation), op.QueuedUtc).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build enqueue pending op query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("enqueue pending op for %s: %w", op.VaultKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pending op insert id: %w", err)
	}
	return id, nil
}

// ListPendingOps returns the vault's unconfirmed operations in queue order.
func (s *Store) ListPendingOps(ctx context.Context, vaultKey string) ([]models.PendingOp, error) {
	query, args, err := s.builder.
		Select("id", "vault_key", "item_id", "operation", "queued_utc").
		From("pending_ops").
		Where(sq.Eq{"vault_key": vaultKey}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending ops query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending ops for %s: %w", vaultKey, err)
	}
	defer rows.Close()

	var out []models.PendingOp
	for rows.Next() {
		var (
			op   models.PendingOp
			kind string
			ts   time.Time
		)
		if err = rows.Scan(&op.ID, &op.VaultKey, &op.ItemID, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan pending op row: %w", err)
		}
		op.Operation = models.Operation(kind)
		op.QueuedUtc = ts.UTC()
		out = append(out, op)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending op rows: %w", err)
	}
	return out, nil
}

// CommitSync atomically records the outcome of a successful sync cycle: the
// new sync state replaces the old one and the pushed pending ops are
// acknowledged, all in a single transaction. The caller must have already
// renamed the new blob into place — the blob write happens first so a crash
// between the two leaves a consistent (if slightly stale) state that the
// next cycle's hash check detects.
func (s *Store) CommitSync(ctx context.Context, state models.SyncState, ackedOps []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := s.builder.
		Insert("sync_states").
		Options("OR REPLACE").
		Columns("vault_key", "last_sync_utc", "local_content_hash", "remote_revision_tag").
		Values(state.VaultKey, state.LastSyncUtc, state.LocalContentHash, state.RemoteRevisionTag).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save sync state query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save sync state %s: %w", state.VaultKey, err)
	}

	if len(ackedOps) > 0 {
		query, args, err = s.builder.
			Delete("pending_ops").
			Where(sq.Eq{"id": ackedOps}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build ack pending ops query: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("ack pending ops for %s: %w", state.VaultKey, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sync state %s: %w", state.VaultKey, err)
	}
	return nil
}
