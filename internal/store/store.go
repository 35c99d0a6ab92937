// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package store persists everything the sync engine keeps on a device: per
// vault sync metadata, the change journal, the pending-operation queue (all
// in SQLite), and the encrypted container cache (one blob file per vault,
// written atomically). Nothing in this package ever sees plaintext vault
// content.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/migrations"
)

// Config holds the local store locations.
type Config struct {
	// DBPath is the SQLite database file. ":memory:" is accepted for tests.
	DBPath string

	// BlobDir is the directory holding one encrypted container per vault.
	BlobDir string
}

// Store is the device-local persistence layer. One instance serves all
// vaults of the device; per-vault isolation is by key.
type Store struct {
	db      *sql.DB
	blobDir string
	builder sq.StatementBuilderType
	logger  *logger.Logger
}

// Open opens (creating if necessary) the SQLite database, applies embedded
// migrations, and ensures the blob directory exists.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}

	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err = migrations.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if cfg.BlobDir != "" {
		if err = os.MkdirAll(cfg.BlobDir, 0o700); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}

	return &Store{
		db:      db,
		blobDir: cfg.BlobDir,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:  log,
	}, nil
}

// NewWithDB wraps an existing database handle. Used by tests (sqlmock) and
// callers that manage the connection themselves; migrations are not applied.
func NewWithDB(db *sql.DB, blobDir string, log *logger.Logger) *Store {
	return &Store{
		db:      db,
		blobDir: blobDir,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:  log,
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
