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

// AppendJournal durably records one local mutation. Entries are append-only;
// they are removed only by the retention trim.
func (s *Store) AppendJournal(ctx context.Context, vaultKey string, e models.ChangeJournalEntry) error {
	query, args, err := s.builder.
		Insert("journal").
		Columns("vault_key", "device_id", "change_id", "item_id", "operation", "timestamp_utc").
		Values(vaultKey, e.DeviceID, e.ChangeID, e.ItemID, string(e.Operation), e.TimestampUtc).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append journal query: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append journal entry for %s: %w", vaultKey, err)
	}
	return nil
}

// JournalSince returns the vault's journal entries with timestamps strictly
// after since, in (device_id, change_id) order. A zero since returns all.
func (s *Store) JournalSince(ctx context.Context, vaultKey string, since time.Time) ([]models.ChangeJournalEntry, error) {
	builder := s.builder.
		Select("device_id", "change_id", "item_id", "operation", "timestamp_utc").
		From("journal").
		Where(sq.Eq{"vault_key": vaultKey}).
		OrderBy("device_id", "change_id")
	if !since.IsZero() {
		builder = builder.Where(sq.Gt{"timestamp_utc": since})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build journal since query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal for %s: %w", vaultKey, err)
	}
	defer rows.Close()

	var out []models.ChangeJournalEntry
	for rows.Next() {
		var (
			e  models.ChangeJournalEntry
			op string
			ts time.Time
		)
		if err = rows.Scan(&e.DeviceID, &e.ChangeID, &e.ItemID, &op, &ts); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Operation = models.Operation(op)
		e.TimestampUtc = ts.UTC()
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return out, nil
}

// NextChangeID allocates the next monotonic per-device counter value for a
// journal append.
func (s *Store) NextChangeID(ctx context.Context, vaultKey, deviceID string) (int64, error) {
	query, args, err := s.builder.
		Select("COALESCE(MAX(change_id), 0)").
		From("journal").
		Where(sq.Eq{"vault_key": vaultKey, "device_id": deviceID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build next change id query: %w", err)
	}

	var max int64
	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&max); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query next change id for %s: %w", vaultKey, err)
	}
	return max + 1, nil
}

// TrimJournal enforces the conservative retention cap: it keeps at most
// keep entries per vault, but never removes entries newer than the vault's
// last successful sync — those may not have been observed by peers yet.
func (s *Store) TrimJournal(ctx context.Context, vaultKey string, keep int, lastSync time.Time) error {
	if keep <= 0 {
		return nil
	}

	// Delete the oldest rows beyond the cap, bounded by lastSync.
	query := `
		DELETE FROM journal
		WHERE vault_key = ?
		  AND timestamp_utc <= ?
		  AND rowid NOT IN (
			SELECT rowid FROM journal
			WHERE vault_key = ?
			ORDER BY timestamp_utc DESC, change_id DESC
			LIMIT ?
		  );`

	if _, err := s.db.ExecContext(ctx, query, vaultKey, lastSync, vaultKey, keep); err != nil {
		return fmt.Errorf("trim journal for %s: %w", vaultKey, err)
	}
	return nil
}
