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

// SaveVaultMetadata inserts or replaces the local record of a vault.
func (s *Store) SaveVaultMetadata(ctx context.Context, meta models.VaultMetadata) error {
	query, args, err := s.builder.
		Insert("vaults").
		Options("OR REPLACE").
		Columns("vault_key", "remote_path", "provider_kind", "account_id",
			"display_name", "format_version", "size_bytes",
			"remote_revision_tag", "last_modified_utc", "deleted").
		Values(meta.Identity.Key(), meta.Identity.RemotePath, string(meta.Identity.ProviderKind),
			meta.Identity.AccountID, meta.DisplayName, meta.FormatVersion, meta.SizeBytes,
			meta.RemoteRevisionTag, meta.LastModifiedUtc, meta.Deleted).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save vault query: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save vault metadata %s: %w", meta.Identity.Key(), err)
	}
	return nil
}

// GetVaultMetadata loads one vault's local record by key.
func (s *Store) GetVaultMetadata(ctx context.Context, vaultKey string) (models.VaultMetadata, error) {
	query, args, err := s.vaultSelect().Where(sq.Eq{"vault_key": vaultKey}).ToSql()
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("build get vault query: %w", err)
	}

	meta, err := scanVault(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.VaultMetadata{}, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultKey)
	}
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("get vault metadata %s: %w", vaultKey, err)
	}
	return meta, nil
}

// ListVaultMetadata returns all non-tombstoned vault records.
func (s *Store) ListVaultMetadata(ctx context.Context) ([]models.VaultMetadata, error) {
	query, args, err := s.vaultSelect().Where(sq.Eq{"deleted": false}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list vaults query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vault metadata: %w", err)
	}
	defer rows.Close()

	var out []models.VaultMetadata
	for rows.Next() {
		meta, scanErr := scanVault(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan vault row: %w", scanErr)
		}
		out = append(out, meta)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault rows: %w", err)
	}
	return out, nil
}

// TombstoneVault marks a vault deleted locally. The record is kept so a
// later sync can confirm the backend delete happened.
func (s *Store) TombstoneVault(ctx context.Context, vaultKey string) error {
	query, args, err := s.builder.
		Update("vaults").
		Set("deleted", true).
		Where(sq.Eq{"vault_key": vaultKey}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build tombstone query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("tombstone vault %s: %w", vaultKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrVaultNotFound, vaultKey)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) vaultSelect() sq.SelectBuilder {
	return s.builder.
		Select("vault_key", "remote_path", "provider_kind", "account_id",
			"display_name", "format_version", "size_bytes",
			"remote_revision_tag", "last_modified_utc", "deleted").
		From("vaults")
}

func scanVault(row rowScanner) (models.VaultMetadata, error) {
	var (
		meta         models.VaultMetadata
		vaultKey     string
		providerKind string
		modified     sql.NullTime
	)

	err := row.Scan(
		&vaultKey,
		&meta.Identity.RemotePath,
		&providerKind,
		&meta.Identity.AccountID,
		&meta.DisplayName,
		&meta.FormatVersion,
		&meta.SizeBytes,
		&meta.RemoteRevisionTag,
		&modified,
		&meta.Deleted,
	)
	if err != nil {
		return models.VaultMetadata{}, err
	}

	meta.Identity.ProviderKind = models.ProviderKind(providerKind)
	if modified.Valid {
		meta.LastModifiedUtc = modified.Time.UTC()
	} else {
		meta.LastModifiedUtc = time.Time{}
	}
	return meta, nil
}
