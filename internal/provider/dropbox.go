// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/models"
)

// dropboxProvider talks to Dropbox-like backends: RPC-style POST endpoints,
// arguments as JSON (in the Dropbox-API-Arg header for content endpoints),
// and a per-file "rev" string as the revision tag. Conditional uploads use
// update-mode writes pinned to the expected rev.
type dropboxProvider struct {
	httpAdapter
}

// NewDropbox constructs the Dropbox-like adapter.
func NewDropbox(cfg Config, tokens TokenSource, log *logger.Logger) (Provider, error) {
	base, err := newHTTPAdapter(cfg, tokens, log)
	if err != nil {
		return nil, fmt.Errorf("dropbox adapter: %w", err)
	}
	return &dropboxProvider{httpAdapter: base}, nil
}

func (d *dropboxProvider) Name() string { return string(models.ProviderDropbox) }

type dropboxEntry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	Rev            string    `json:"rev"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
}

func (d *dropboxProvider) Authenticate(ctx context.Context) (Account, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return Account{}, err
	}

	resp, err := req.Post("/2/users/get_current_account")
	if err != nil {
		return Account{}, wrapTransportErr("dropbox get_current_account", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return Account{}, err
	}

	var account struct {
		AccountID string `json:"account_id"`
	}
	if err = json.Unmarshal(resp.Body(), &account); err != nil {
		return Account{}, fmt.Errorf("decode dropbox account: %w", err)
	}

	tok, _ := d.tokens.Token(ctx)
	return Account{ID: account.AccountID, Token: tok}, nil
}

func (d *dropboxProvider) ListVaults(ctx context.Context, account Account) ([]models.VaultMetadata, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"path": d.folderArg(), "recursive": false}).
		Post("/2/files/list_folder")
	if err != nil {
		return nil, wrapTransportErr("dropbox list_folder", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Entries []dropboxEntry `json:"entries"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode dropbox list_folder: %w", err)
	}

	var out []models.VaultMetadata
	for _, e := range payload.Entries {
		if e.Tag != "file" || !strings.HasSuffix(e.Name, ".vault") {
			continue
		}
		out = append(out, d.metadata(account, e))
	}
	return out, nil
}

func (d *dropboxProvider) Download(ctx context.Context, _ Account, identity models.VaultIdentity) ([]byte, string, error) {
	arg, _ := json.Marshal(map[string]string{"path": identity.RemotePath})

	req, err := d.authedRequest(ctx)
	if err != nil {
		return nil, "", err
	}
	resp, err := req.
		SetHeader("Dropbox-API-Arg", string(arg)).
		SetHeader("Content-Type", "application/octet-stream").
		Post("/2/files/download")
	if err != nil {
		return nil, "", wrapTransportErr("dropbox download", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, "", err
	}

	// Content endpoints return file metadata in a response header, body is
	// the raw bytes.
	var entry dropboxEntry
	if raw := resp.Header().Get("Dropbox-API-Result"); raw != "" {
		if err = json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, "", fmt.Errorf("decode dropbox download result: %w", err)
		}
	}
	return resp.Body(), entry.Rev, nil
}

func (d *dropboxProvider) Upload(ctx context.Context, _ Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error) {
	mode := any("overwrite")
	if ifMatch != "" {
		mode = map[string]string{".tag": "update", "update": ifMatch}
	}
	arg, _ := json.Marshal(map[string]any{
		"path": identity.RemotePath,
		"mode": mode,
		"mute": true,
	})

	req, err := d.authedRequest(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	resp, err := req.
		SetHeader("Dropbox-API-Arg", string(arg)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Post("/2/files/upload")
	if err != nil {
		return UploadResult{}, wrapTransportErr("dropbox upload", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return UploadResult{}, err
	}

	var entry dropboxEntry
	if err = json.Unmarshal(resp.Body(), &entry); err != nil {
		return UploadResult{}, fmt.Errorf("decode dropbox upload response: %w", err)
	}
	return UploadResult{RevisionTag: entry.Rev, ModifiedUtc: entry.ServerModified}, nil
}

func (d *dropboxProvider) CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error) {
	path := d.folderArg() + "/" + name + ".vault"
	identity := models.VaultIdentity{
		RemotePath:   path,
		ProviderKind: models.ProviderDropbox,
		AccountID:    account.ID,
	}

	result, err := d.Upload(ctx, account, identity, nil, "")
	if err != nil {
		return models.VaultMetadata{}, err
	}

	return models.VaultMetadata{
		Identity:          identity,
		DisplayName:       name + ".vault",
		RemoteRevisionTag: result.RevisionTag,
		LastModifiedUtc:   result.ModifiedUtc,
	}, nil
}

func (d *dropboxProvider) DeleteVault(ctx context.Context, _ Account, identity models.VaultIdentity) error {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"path": identity.RemotePath}).
		Post("/2/files/delete_v2")
	if err != nil {
		return wrapTransportErr("dropbox delete", err)
	}
	return mapHTTPError(resp)
}

func (d *dropboxProvider) ListChanges(ctx context.Context, account Account, cursor string) (ChangePage, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return ChangePage{}, err
	}
	req.SetHeader("Content-Type", "application/json")

	var resp *resty.Response
	if cursor == "" {
		resp, err = req.
			SetBody(map[string]any{"path": d.folderArg(), "recursive": false}).
			Post("/2/files/list_folder")
	} else {
		resp, err = req.
			SetBody(map[string]string{"cursor": cursor}).
			Post("/2/files/list_folder/continue")
	}
	if err != nil {
		return ChangePage{}, wrapTransportErr("dropbox list changes", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return ChangePage{}, err
	}

	var payload struct {
		Entries []dropboxEntry `json:"entries"`
		Cursor  string         `json:"cursor"`
		HasMore bool           `json:"has_more"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return ChangePage{}, fmt.Errorf("decode dropbox changes: %w", err)
	}

	page := ChangePage{Cursor: payload.Cursor, HasMore: payload.HasMore}
	for _, e := range payload.Entries {
		if !strings.HasSuffix(e.Name, ".vault") {
			continue
		}
		meta := d.metadata(account, e)
		meta.Deleted = e.Tag == "deleted"
		page.Changed = append(page.Changed, meta)
	}
	return page, nil
}

// folderArg returns the configured vault folder in Dropbox path form: "" for
// root, "/name" otherwise.
func (d *dropboxProvider) folderArg() string {
	if d.root == "" {
		return ""
	}
	return "/" + d.root
}

func (d *dropboxProvider) metadata(account Account, e dropboxEntry) models.VaultMetadata {
	return models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   e.PathLower,
			ProviderKind: models.ProviderDropbox,
			AccountID:    account.ID,
		},
		DisplayName:       e.Name,
		SizeBytes:         e.Size,
		RemoteRevisionTag: e.Rev,
		LastModifiedUtc:   e.ServerModified,
	}
}
