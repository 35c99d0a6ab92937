// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/models"
)

// graphProvider talks to Graph-like backends. Files are addressed by
// drive-root-relative path and the revision tag is the item's cTag, which
// changes on every content write.
type graphProvider struct {
	httpAdapter
}

// NewGraph constructs the Graph-like adapter.
func NewGraph(cfg Config, tokens TokenSource, log *logger.Logger) (Provider, error) {
	base, err := newHTTPAdapter(cfg, tokens, log)
	if err != nil {
		return nil, fmt.Errorf("graph adapter: %w", err)
	}
	return &graphProvider{httpAdapter: base}, nil
}

func (g *graphProvider) Name() string { return string(models.ProviderGraph) }

type graphItem struct {
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	CTag                 string    `json:"cTag"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Deleted              *struct{} `json:"deleted,omitempty"`
	ParentReference      struct {
		Path string `json:"path"`
	} `json:"parentReference"`
}

func (g *graphProvider) Authenticate(ctx context.Context) (Account, error) {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return Account{}, err
	}

	resp, err := req.Get("/v1.0/me/drive")
	if err != nil {
		return Account{}, wrapTransportErr("graph drive info", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return Account{}, err
	}

	var drive struct {
		ID string `json:"id"`
	}
	if err = json.Unmarshal(resp.Body(), &drive); err != nil {
		return Account{}, fmt.Errorf("decode graph drive info: %w", err)
	}

	tok, _ := g.tokens.Token(ctx)
	return Account{ID: drive.ID, Token: tok}, nil
}

func (g *graphProvider) ListVaults(ctx context.Context, account Account) ([]models.VaultMetadata, error) {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.Get(g.itemURL("") + ":/children")
	if err != nil {
		return nil, wrapTransportErr("graph list", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Value []graphItem `json:"value"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode graph children: %w", err)
	}

	var out []models.VaultMetadata
	for _, item := range payload.Value {
		if !strings.HasSuffix(item.Name, ".vault") {
			continue
		}
		out = append(out, g.metadata(account, item))
	}
	return out, nil
}

func (g *graphProvider) Download(ctx context.Context, account Account, identity models.VaultIdentity) ([]byte, string, error) {
	item, err := g.itemMetadata(ctx, identity.RemotePath)
	if err != nil {
		return nil, "", err
	}

	req, err := g.authedRequest(ctx)
	if err != nil {
		return nil, "", err
	}
	resp, err := req.Get(g.itemURL(identity.RemotePath) + ":/content")
	if err != nil {
		return nil, "", wrapTransportErr("graph download", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, "", err
	}

	return resp.Body(), item.CTag, nil
}

func (g *graphProvider) Upload(ctx context.Context, account Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error) {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	req.
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data)
	if ifMatch != "" {
		req.SetHeader("If-Match", ifMatch)
	}

	resp, err := req.Put(g.itemURL(identity.RemotePath) + ":/content")
	if err != nil {
		return UploadResult{}, wrapTransportErr("graph upload", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return UploadResult{}, err
	}

	var item graphItem
	if err = json.Unmarshal(resp.Body(), &item); err != nil {
		return UploadResult{}, fmt.Errorf("decode graph upload response: %w", err)
	}
	return UploadResult{RevisionTag: item.CTag, ModifiedUtc: item.LastModifiedDateTime}, nil
}

func (g *graphProvider) CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error) {
	path := name + ".vault"

	result, err := g.Upload(ctx, account, models.VaultIdentity{RemotePath: path}, nil, "")
	if err != nil {
		return models.VaultMetadata{}, err
	}

	return models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   path,
			ProviderKind: models.ProviderGraph,
			AccountID:    account.ID,
		},
		DisplayName:       path,
		RemoteRevisionTag: result.RevisionTag,
		LastModifiedUtc:   result.ModifiedUtc,
	}, nil
}

func (g *graphProvider) DeleteVault(ctx context.Context, _ Account, identity models.VaultIdentity) error {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Delete(g.itemURL(identity.RemotePath))
	if err != nil {
		return wrapTransportErr("graph delete", err)
	}
	return mapHTTPError(resp)
}

// ListChanges uses the delta feed. The returned cursor is the delta token
// extracted from @odata.deltaLink (terminal page) or @odata.nextLink.
func (g *graphProvider) ListChanges(ctx context.Context, account Account, cursor string) (ChangePage, error) {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return ChangePage{}, err
	}
	if cursor != "" {
		req.SetQueryParam("token", cursor)
	}

	resp, err := req.Get(g.itemURL("") + ":/delta")
	if err != nil {
		return ChangePage{}, wrapTransportErr("graph delta", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return ChangePage{}, err
	}

	var payload struct {
		Value     []graphItem `json:"value"`
		NextLink  string      `json:"@odata.nextLink"`
		DeltaLink string      `json:"@odata.deltaLink"`
	}
	if err = json.Unmarshal(resp.Body(), &payload); err != nil {
		return ChangePage{}, fmt.Errorf("decode graph delta: %w", err)
	}

	page := ChangePage{HasMore: payload.NextLink != ""}
	if page.HasMore {
		page.Cursor = extractDeltaToken(payload.NextLink)
	} else {
		page.Cursor = extractDeltaToken(payload.DeltaLink)
	}

	for _, item := range payload.Value {
		if !strings.HasSuffix(item.Name, ".vault") {
			continue
		}
		meta := g.metadata(account, item)
		meta.Deleted = item.Deleted != nil
		page.Changed = append(page.Changed, meta)
	}
	return page, nil
}

func (g *graphProvider) itemMetadata(ctx context.Context, path string) (graphItem, error) {
	req, err := g.authedRequest(ctx)
	if err != nil {
		return graphItem{}, err
	}

	resp, err := req.Get(g.itemURL(path))
	if err != nil {
		return graphItem{}, wrapTransportErr("graph item metadata", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return graphItem{}, err
	}

	var item graphItem
	if err = json.Unmarshal(resp.Body(), &item); err != nil {
		return graphItem{}, fmt.Errorf("decode graph item: %w", err)
	}
	return item, nil
}

// itemURL builds the root-relative item address. An empty path addresses the
// configured vault folder itself.
func (g *graphProvider) itemURL(path string) string {
	full := g.root
	if path != "" {
		full = strings.Trim(full+"/"+strings.TrimLeft(path, "/"), "/")
	}
	return "/v1.0/me/drive/root:/" + full
}

func extractDeltaToken(link string) string {
	const marker = "token="
	if idx := strings.LastIndex(link, marker); idx >= 0 {
		return link[idx+len(marker):]
	}
	return ""
}

func (g *graphProvider) metadata(account Account, item graphItem) models.VaultMetadata {
	return models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   item.Name,
			ProviderKind: models.ProviderGraph,
			AccountID:    account.ID,
		},
		DisplayName:       item.Name,
		SizeBytes:         item.Size,
		RemoteRevisionTag: item.CTag,
		LastModifiedUtc:   item.LastModifiedDateTime,
	}
}
