// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/models"
)

// driveProvider talks to Drive-like backends. Files are addressed by opaque
// file ID (stored as VaultIdentity.RemotePath) and the revision tag is the
// backend's head revision identifier.
type driveProvider struct {
	httpAdapter
}

// NewDrive constructs the Drive-like adapter.
func NewDrive(cfg Config, tokens TokenSource, log *logger.Logger) (Provider, error) {
	base, err := newHTTPAdapter(cfg, tokens, log)
	if err != nil {
		return nil, fmt.Errorf("drive adapter: %w", err)
	}
	return &driveProvider{httpAdapter: base}, nil
}

func (d *driveProvider) Name() string { return string(models.ProviderDrive) }

type driveFile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Size           int64     `json:"size,string"`
	HeadRevisionID string    `json:"headRevisionId"`
	ModifiedTime   time.Time `json:"modifiedTime"`
	Trashed        bool      `json:"trashed"`
}

type driveFileList struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

func (d *driveProvider) Authenticate(ctx context.Context) (Account, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return Account{}, err
	}

	resp, err := req.
		SetQueryParam("fields", "user(permissionId,emailAddress)").
		Get("/drive/v3/about")
	if err != nil {
		return Account{}, wrapTransportErr("drive about", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return Account{}, err
	}

	var about struct {
		User struct {
			PermissionID string `json:"permissionId"`
		} `json:"user"`
	}
	if err = json.Unmarshal(resp.Body(), &about); err != nil {
		return Account{}, fmt.Errorf("decode drive about: %w", err)
	}

	tok, _ := d.tokens.Token(ctx)
	return Account{ID: about.User.PermissionID, Token: tok}, nil
}

func (d *driveProvider) ListVaults(ctx context.Context, account Account) ([]models.VaultMetadata, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetQueryParams(map[string]string{
			"spaces": "appDataFolder",
			"q":      "name contains '.vault' and trashed = false",
			"fields": "files(id,name,size,headRevisionId,modifiedTime,trashed)",
		}).
		Get("/drive/v3/files")
	if err != nil {
		return nil, wrapTransportErr("drive list", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var list driveFileList
	if err = json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, fmt.Errorf("decode drive file list: %w", err)
	}

	out := make([]models.VaultMetadata, 0, len(list.Files))
	for _, f := range list.Files {
		out = append(out, d.metadata(account, f))
	}
	return out, nil
}

func (d *driveProvider) Download(ctx context.Context, account Account, identity models.VaultIdentity) ([]byte, string, error) {
	// Head revision first, media second. The revision read before the media
	// fetch is the tag the caller compares on the next conditional upload.
	meta, err := d.fileMetadata(ctx, identity.RemotePath)
	if err != nil {
		return nil, "", err
	}

	req, err := d.authedRequest(ctx)
	if err != nil {
		return nil, "", err
	}
	resp, err := req.
		SetQueryParam("alt", "media").
		Get("/drive/v3/files/" + identity.RemotePath)
	if err != nil {
		return nil, "", wrapTransportErr("drive download", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, "", err
	}

	return resp.Body(), meta.HeadRevisionID, nil
}

func (d *driveProvider) Upload(ctx context.Context, account Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	req.
		SetQueryParam("uploadType", "media").
		SetQueryParam("fields", "id,headRevisionId,modifiedTime").
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data)
	if ifMatch != "" {
		req.SetHeader("If-Match", ifMatch)
	}

	resp, err := req.Patch("/upload/drive/v3/files/" + identity.RemotePath)
	if err != nil {
		return UploadResult{}, wrapTransportErr("drive upload", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return UploadResult{}, err
	}

	var f driveFile
	if err = json.Unmarshal(resp.Body(), &f); err != nil {
		return UploadResult{}, fmt.Errorf("decode drive upload response: %w", err)
	}
	return UploadResult{RevisionTag: f.HeadRevisionID, ModifiedUtc: f.ModifiedTime}, nil
}

func (d *driveProvider) CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return models.VaultMetadata{}, err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetQueryParam("fields", "id,name,size,headRevisionId,modifiedTime").
		SetBody(map[string]any{
			"name":    name + ".vault",
			"parents": []string{"appDataFolder"},
		}).
		Post("/drive/v3/files")
	if err != nil {
		return models.VaultMetadata{}, wrapTransportErr("drive create", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.VaultMetadata{}, err
	}

	var f driveFile
	if err = json.Unmarshal(resp.Body(), &f); err != nil {
		return models.VaultMetadata{}, fmt.Errorf("decode drive create response: %w", err)
	}
	return d.metadata(account, f), nil
}

func (d *driveProvider) DeleteVault(ctx context.Context, _ Account, identity models.VaultIdentity) error {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Delete("/drive/v3/files/" + identity.RemotePath)
	if err != nil {
		return wrapTransportErr("drive delete", err)
	}
	return mapHTTPError(resp)
}

func (d *driveProvider) ListChanges(ctx context.Context, account Account, cursor string) (ChangePage, error) {
	if cursor == "" {
		start, err := d.startPageToken(ctx)
		if err != nil {
			return ChangePage{}, err
		}
		cursor = start
	}

	req, err := d.authedRequest(ctx)
	if err != nil {
		return ChangePage{}, err
	}
	resp, err := req.
		SetQueryParams(map[string]string{
			"pageToken": cursor,
			"spaces":    "appDataFolder",
			"fields":    "changes(file(id,name,size,headRevisionId,modifiedTime,trashed)),nextPageToken,newStartPageToken",
		}).
		Get("/drive/v3/changes")
	if err != nil {
		return ChangePage{}, wrapTransportErr("drive changes", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return ChangePage{}, err
	}

	var payload struct {
		Changes []struct {
			File driveFile `json:"file"`
		} `json:"changes"`
		NextPageToken     string `json:"nextPageToken"`
		NewStartPageToken string `json:"newStartPageToken"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return ChangePage{}, fmt.Errorf("decode drive changes: %w", err)
	}

	page := ChangePage{Cursor: payload.NewStartPageToken, HasMore: payload.NextPageToken != ""}
	if page.HasMore {
		page.Cursor = payload.NextPageToken
	}
	for _, c := range payload.Changes {
		if c.File.ID == "" {
			continue
		}
		meta := d.metadata(account, c.File)
		meta.Deleted = c.File.Trashed
		page.Changed = append(page.Changed, meta)
	}
	return page, nil
}

func (d *driveProvider) startPageToken(ctx context.Context) (string, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return "", err
	}
	resp, err := req.Get("/drive/v3/changes/startPageToken")
	if err != nil {
		return "", wrapTransportErr("drive start page token", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return "", err
	}

	var payload struct {
		StartPageToken string `json:"startPageToken"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return "", fmt.Errorf("decode start page token: %w", err)
	}
	return payload.StartPageToken, nil
}

func (d *driveProvider) fileMetadata(ctx context.Context, fileID string) (driveFile, error) {
	req, err := d.authedRequest(ctx)
	if err != nil {
		return driveFile{}, err
	}

	resp, err := req.
		SetQueryParam("fields", "id,name,size,headRevisionId,modifiedTime,trashed").
		Get("/drive/v3/files/" + fileID)
	if err != nil {
		return driveFile{}, wrapTransportErr("drive file metadata", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return driveFile{}, err
	}

	var f driveFile
	if err = json.Unmarshal(resp.Body(), &f); err != nil {
		return driveFile{}, fmt.Errorf("decode drive file metadata: %w", err)
	}
	return f, nil
}

func (d *driveProvider) metadata(account Account, f driveFile) models.VaultMetadata {
	return models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   f.ID,
			ProviderKind: models.ProviderDrive,
			AccountID:    account.ID,
		},
		DisplayName:       f.Name,
		SizeBytes:         f.Size,
		RemoteRevisionTag: f.HeadRevisionID,
		LastModifiedUtc:   f.ModifiedTime,
	}
}
