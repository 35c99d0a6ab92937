// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package devcloud

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
)

func doReq(t *testing.T, srv *httptest.Server, method, path, ifMatch string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestDevcloud_PutGetDelete(t *testing.T) {
	srv := httptest.NewServer(NewHandler("tok", logger.Nop()).Init())
	defer srv.Close()

	resp := doReq(t, srv, http.MethodPut, "/a.vault", "", []byte("blob"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp = doReq(t, srv, http.MethodGet, "/a.vault", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, etag, resp.Header.Get("ETag"))

	resp = doReq(t, srv, http.MethodDelete, "/a.vault", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doReq(t, srv, http.MethodGet, "/a.vault", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDevcloud_IfMatch(t *testing.T) {
	srv := httptest.NewServer(NewHandler("tok", logger.Nop()).Init())
	defer srv.Close()

	resp := doReq(t, srv, http.MethodPut, "/a.vault", "", []byte("v1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	etag := resp.Header.Get("ETag")

	// ── matching tag lands ──
	resp = doReq(t, srv, http.MethodPut, "/a.vault", etag, []byte("v2"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// ── stale tag is rejected ──
	resp = doReq(t, srv, http.MethodPut, "/a.vault", etag, []byte("v3"))
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestDevcloud_AuthRequired(t *testing.T) {
	srv := httptest.NewServer(NewHandler("tok", logger.Nop()).Init())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/a.vault", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDevcloud_ChangesFeed(t *testing.T) {
	srv := httptest.NewServer(NewHandler("tok", logger.Nop()).Init())
	defer srv.Close()

	doReq(t, srv, http.MethodPut, "/a.vault", "", []byte("v1"))
	doReq(t, srv, http.MethodPut, "/b.vault", "", []byte("v1"))

	var feed struct {
		Changes []struct {
			Path string `json:"path"`
			ETag string `json:"etag"`
		} `json:"changes"`
		Cursor string `json:"cursor"`
	}

	resp := doReq(t, srv, http.MethodGet, "/changes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	assert.Len(t, feed.Changes, 2)
	cursor := feed.Cursor

	// Nothing new behind the cursor.
	resp = doReq(t, srv, http.MethodGet, "/changes?cursor="+cursor, "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	assert.Empty(t, feed.Changes)

	// One edit shows up exactly once.
	doReq(t, srv, http.MethodPut, "/a.vault", "", []byte("v2"))
	resp = doReq(t, srv, http.MethodGet, "/changes?cursor="+cursor, "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed.Changes, 1)
	assert.Equal(t, "a.vault", feed.Changes[0].Path)
}

func TestDevcloud_Throttle(t *testing.T) {
	backend := NewHandler("tok", logger.Nop())
	srv := httptest.NewServer(backend.Init())
	defer srv.Close()

	backend.Throttle(45 * time.Second)

	resp := doReq(t, srv, http.MethodGet, "/a.vault", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "45", resp.Header.Get("Retry-After"))

	backend.Resume()
	resp = doReq(t, srv, http.MethodGet, "/a.vault", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
