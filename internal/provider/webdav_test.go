// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-vault-sync/internal/devcloud"
	"github.com/MKhiriev/go-vault-sync/internal/logger"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context) (string, error) { return s.token, nil }

func newWebDAVFixture(t *testing.T) (Provider, *devcloud.Handler) {
	t.Helper()

	backend := devcloud.NewHandler("dev-token", logger.Nop())
	srv := httptest.NewServer(backend.Init())
	t.Cleanup(srv.Close)

	prov, err := NewWebDAV(Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, staticTokens{token: "dev-token"}, logger.Nop())
	require.NoError(t, err)
	return prov, backend
}

func TestWebDAV_Authenticate(t *testing.T) {
	prov, _ := newWebDAVFixture(t)

	account, err := prov.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(account.ID, "webdav:"), "account id carries the host")
	assert.Equal(t, "dev-token", account.Token)
}

func TestWebDAV_Authenticate_BadToken(t *testing.T) {
	backend := devcloud.NewHandler("dev-token", logger.Nop())
	srv := httptest.NewServer(backend.Init())
	t.Cleanup(srv.Close)

	prov, err := NewWebDAV(Config{BaseURL: srv.URL}, staticTokens{token: "wrong"}, logger.Nop())
	require.NoError(t, err)

	_, err = prov.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestWebDAV_UploadDownloadRoundTrip(t *testing.T) {
	prov, _ := newWebDAVFixture(t)
	ctx := context.Background()

	account, err := prov.Authenticate(ctx)
	require.NoError(t, err)

	meta, err := prov.CreateVault(ctx, account, "personal")
	require.NoError(t, err)
	require.NotEmpty(t, meta.RemoteRevisionTag)

	blob := []byte("sealed container")
	up, err := prov.Upload(ctx, account, meta.Identity, blob, meta.RemoteRevisionTag)
	require.NoError(t, err)
	assert.NotEqual(t, meta.RemoteRevisionTag, up.RevisionTag, "revision advances on write")

	data, tag, err := prov.Download(ctx, account, meta.Identity)
	require.NoError(t, err)
	assert.Equal(t, blob, data)
	assert.Equal(t, up.RevisionTag, tag)
}

func TestWebDAV_ConditionalUploadLosesRace(t *testing.T) {
	prov, _ := newWebDAVFixture(t)
	ctx := context.Background()

	account, err := prov.Authenticate(ctx)
	require.NoError(t, err)
	meta, err := prov.CreateVault(ctx, account, "personal")
	require.NoError(t, err)

	// A concurrent writer bumps the revision.
	_, err = prov.Upload(ctx, account, meta.Identity, []byte("winner"), meta.RemoteRevisionTag)
	require.NoError(t, err)

	// Our stale tag must be rejected, and the winner's bytes survive.
	_, err = prov.Upload(ctx, account, meta.Identity, []byte("loser"), meta.RemoteRevisionTag)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	data, _, err := prov.Download(ctx, account, meta.Identity)
	require.NoError(t, err)
	assert.Equal(t, []byte("winner"), data)
}

func TestWebDAV_ListVaults(t *testing.T) {
	prov, _ := newWebDAVFixture(t)
	ctx := context.Background()

	account, err := prov.Authenticate(ctx)
	require.NoError(t, err)
	_, err = prov.CreateVault(ctx, account, "work")
	require.NoError(t, err)
	_, err = prov.CreateVault(ctx, account, "home")
	require.NoError(t, err)

	vaults, err := prov.ListVaults(ctx, account)
	require.NoError(t, err)
	require.Len(t, vaults, 2)

	names := []string{vaults[0].DisplayName, vaults[1].DisplayName}
	assert.ElementsMatch(t, []string{"work.vault", "home.vault"}, names)
	for _, v := range vaults {
		assert.NotEmpty(t, v.RemoteRevisionTag)
	}
}

func TestWebDAV_DeleteVault(t *testing.T) {
	prov, _ := newWebDAVFixture(t)
	ctx := context.Background()

	account, err := prov.Authenticate(ctx)
	require.NoError(t, err)
	meta, err := prov.CreateVault(ctx, account, "doomed")
	require.NoError(t, err)

	require.NoError(t, prov.DeleteVault(ctx, account, meta.Identity))

	_, _, err = prov.Download(ctx, account, meta.Identity)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, prov.DeleteVault(ctx, account, meta.Identity), ErrNotFound)
}

func TestWebDAV_ThrottleIsRetryableWithDelay(t *testing.T) {
	prov, backend := newWebDAVFixture(t)
	ctx := context.Background()

	account, err := prov.Authenticate(ctx)
	require.NoError(t, err)
	meta, err := prov.CreateVault(ctx, account, "personal")
	require.NoError(t, err)

	backend.Throttle(30 * time.Second)

	_, _, err = prov.Download(ctx, account, meta.Identity)
	require.ErrorIs(t, err, ErrRetryable)

	delay, ok := RetryAfter(err)
	require.True(t, ok, "throttled response carries Retry-After")
	assert.Equal(t, 30*time.Second, delay)

	backend.Resume()
	_, _, err = prov.Download(ctx, account, meta.Identity)
	assert.NoError(t, err)
}

func TestWebDAV_ListChangesUnsupported(t *testing.T) {
	prov, _ := newWebDAVFixture(t)

	_, err := prov.ListChanges(context.Background(), Account{}, "")
	assert.ErrorIs(t, err, ErrChangesUnsupported)
}

func TestTrimETag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"abc"`, "abc"},
		{`W/"weak"`, "weak"},
		{"plain", "plain"},
		{`  "spaced" `, "spaced"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, trimETag(tt.in))
	}
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "a.vault", lastPathSegment("/vaults/a.vault"))
	assert.Equal(t, "a.vault", lastPathSegment("a.vault"))
	assert.Equal(t, "vaults", lastPathSegment("/vaults/"))
}
