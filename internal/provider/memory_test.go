// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-vault-sync/models"
)

func TestMemory_ConditionalWriteContract(t *testing.T) {
	m := NewMemory("alice")
	ctx := context.Background()

	account, err := m.Authenticate(ctx)
	require.NoError(t, err)

	meta, err := m.CreateVault(ctx, account, "personal")
	require.NoError(t, err)

	// ── unconditional write always lands ──
	up1, err := m.Upload(ctx, account, meta.Identity, []byte("v1"), "")
	require.NoError(t, err)

	// ── matching ifMatch lands and advances the revision ──
	up2, err := m.Upload(ctx, account, meta.Identity, []byte("v2"), up1.RevisionTag)
	require.NoError(t, err)
	assert.NotEqual(t, up1.RevisionTag, up2.RevisionTag)

	// ── stale ifMatch is rejected and the content is untouched ──
	_, err = m.Upload(ctx, account, meta.Identity, []byte("stale"), up1.RevisionTag)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	data, tag, err := m.Download(ctx, account, meta.Identity)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
	assert.Equal(t, up2.RevisionTag, tag)
}

func TestMemory_DownloadMissing(t *testing.T) {
	m := NewMemory("alice")

	_, _, err := m.Download(context.Background(), Account{}, models.VaultIdentity{
		RemotePath:   "/nope.vault",
		ProviderKind: models.ProviderMemory,
		AccountID:    "alice",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ChangeCursor(t *testing.T) {
	m := NewMemory("alice")
	ctx := context.Background()

	account, _ := m.Authenticate(ctx)
	metaA, err := m.CreateVault(ctx, account, "a")
	require.NoError(t, err)
	_, err = m.CreateVault(ctx, account, "b")
	require.NoError(t, err)

	// Fresh cursor sees everything.
	page, err := m.ListChanges(ctx, account, "")
	require.NoError(t, err)
	assert.Len(t, page.Changed, 2)

	// Saved cursor sees nothing until a new write happens.
	quiet, err := m.ListChanges(ctx, account, page.Cursor)
	require.NoError(t, err)
	assert.Empty(t, quiet.Changed)

	_, err = m.Upload(ctx, account, metaA.Identity, []byte("edit"), "")
	require.NoError(t, err)

	next, err := m.ListChanges(ctx, account, page.Cursor)
	require.NoError(t, err)
	require.Len(t, next.Changed, 1)
	assert.Equal(t, metaA.Identity, next.Changed[0].Identity)
}

func TestMemory_InjectedUploadFailures(t *testing.T) {
	m := NewMemory("alice")
	ctx := context.Background()

	account, _ := m.Authenticate(ctx)
	meta, err := m.CreateVault(ctx, account, "personal")
	require.NoError(t, err)

	m.FailUploads = 1
	_, err = m.Upload(ctx, account, meta.Identity, []byte("v"), "")
	assert.ErrorIs(t, err, ErrRetryable)

	_, err = m.Upload(ctx, account, meta.Identity, []byte("v"), "")
	assert.NoError(t, err, "failure injection is consumed")
}
