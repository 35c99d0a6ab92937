// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package provider is the uniform transport layer between the sync engine
// and third-party cloud storage backends. One adapter per backend maps the
// backend's native revision concept (content hash, ETag header, rev field)
// onto the opaque revision tag the sync protocol compares for equality, and
// maps backend-specific rate-limit signals onto a single retryable error
// class the orchestrator treats uniformly.
package provider

import (
	"context"
	"time"

	"github.com/MKhiriev/go-vault-sync/models"
)

// Account is an authenticated handle on one backend account. Token refresh
// is handled outside this engine; adapters only consume valid tokens.
type Account struct {
	ID    string
	Token string
}

// UploadResult is the backend's confirmation of a successful write.
type UploadResult struct {
	RevisionTag string
	ModifiedUtc time.Time
}

// ChangePage is one page of a backend change feed. Cursor is opaque; pass it
// back to ListChanges to resume. HasMore signals that another page should be
// fetched immediately.
type ChangePage struct {
	Changed []models.VaultMetadata
	Cursor  string
	HasMore bool
}

// Provider is the capability interface implemented once per backend.
//
// Upload is conditional: when ifMatch is non-empty and the backend's current
// revision differs, it returns ErrPreconditionFailed instead of overwriting.
// This is the optimistic-concurrency backbone the whole sync protocol relies
// on.
type Provider interface {
	// Name returns the backend name string, e.g. "drive" or "webdav".
	Name() string

	// Authenticate resolves the account behind the configured token source.
	Authenticate(ctx context.Context) (Account, error)

	// ListVaults enumerates the vault containers visible to the account.
	ListVaults(ctx context.Context, account Account) ([]models.VaultMetadata, error)

	// Download fetches the container bytes and the revision tag they were
	// read at.
	Download(ctx context.Context, account Account, identity models.VaultIdentity) ([]byte, string, error)

	// Upload writes the container bytes. A non-empty ifMatch makes the write
	// conditional on the backend still holding that revision.
	Upload(ctx context.Context, account Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error)

	// CreateVault creates an empty vault file and returns its metadata.
	CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error)

	// DeleteVault removes the vault from the backend.
	DeleteVault(ctx context.Context, account Account, identity models.VaultIdentity) error

	// ListChanges returns vaults changed since the cursor position. An empty
	// cursor starts a fresh enumeration. Backends without delta support
	// return ErrChangesUnsupported; the orchestrator then falls back to
	// polling per-vault metadata.
	ListChanges(ctx context.Context, account Account, cursor string) (ChangePage, error)
}

// TokenSource supplies bearer credentials to adapters. The concrete
// implementations live in internal/token; OAuth flows and refresh are
// external collaborators behind this interface.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
