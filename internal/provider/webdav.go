// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/models"
)

// webdavProvider talks to WebDAV-like backends: plain GET/PUT/DELETE on the
// vault path with the server ETag as the revision tag, If-Match for
// conditional writes, and a Depth-1 PROPFIND for listing. WebDAV has no
// delta API, so ListChanges reports ErrChangesUnsupported and the
// orchestrator polls metadata instead.
type webdavProvider struct {
	httpAdapter
}

// NewWebDAV constructs the WebDAV-like adapter.
func NewWebDAV(cfg Config, tokens TokenSource, log *logger.Logger) (Provider, error) {
	base, err := newHTTPAdapter(cfg, tokens, log)
	if err != nil {
		return nil, fmt.Errorf("webdav adapter: %w", err)
	}
	return &webdavProvider{httpAdapter: base}, nil
}

func (w *webdavProvider) Name() string { return string(models.ProviderWebDAV) }

// multistatus is the subset of the PROPFIND response the adapter needs.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string   `xml:"href"`
	Propstat propstat `xml:"propstat"`
}

type propstat struct {
	Prop davProp `xml:"prop"`
}

type davProp struct {
	DisplayName   string `xml:"displayname"`
	ContentLength int64  `xml:"getcontentlength"`
	ETag          string `xml:"getetag"`
	LastModified  string `xml:"getlastmodified"`
	ResourceType  struct {
		Collection *struct{} `xml:"collection"`
	} `xml:"resourcetype"`
}

func (w *webdavProvider) Authenticate(ctx context.Context) (Account, error) {
	req, err := w.authedRequest(ctx)
	if err != nil {
		return Account{}, err
	}

	resp, err := req.
		SetHeader("Depth", "0").
		Execute("PROPFIND", w.remotePath(""))
	if err != nil {
		return Account{}, wrapTransportErr("webdav propfind root", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return Account{}, err
	}

	u, _ := url.Parse(w.client.BaseURL)
	tok, _ := w.tokens.Token(ctx)
	return Account{ID: "webdav:" + u.Host, Token: tok}, nil
}

func (w *webdavProvider) ListVaults(ctx context.Context, account Account) ([]models.VaultMetadata, error) {
	req, err := w.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetHeader("Depth", "1").
		Execute("PROPFIND", w.remotePath(""))
	if err != nil {
		return nil, wrapTransportErr("webdav propfind", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var ms multistatus
	if err = xml.Unmarshal(resp.Body(), &ms); err != nil {
		return nil, fmt.Errorf("decode webdav multistatus: %w", err)
	}

	var out []models.VaultMetadata
	for _, r := range ms.Responses {
		if r.Propstat.Prop.ResourceType.Collection != nil {
			continue
		}
		name := r.Propstat.Prop.DisplayName
		if name == "" {
			name = lastPathSegment(r.Href)
		}
		if !strings.HasSuffix(name, ".vault") {
			continue
		}

		meta := models.VaultMetadata{
			Identity: models.VaultIdentity{
				RemotePath:   name,
				ProviderKind: models.ProviderWebDAV,
				AccountID:    account.ID,
			},
			DisplayName:       name,
			SizeBytes:         r.Propstat.Prop.ContentLength,
			RemoteRevisionTag: trimETag(r.Propstat.Prop.ETag),
		}
		if t, perr := http.ParseTime(r.Propstat.Prop.LastModified); perr == nil {
			meta.LastModifiedUtc = t.UTC()
		}
		out = append(out, meta)
	}
	return out, nil
}

func (w *webdavProvider) Download(ctx context.Context, _ Account, identity models.VaultIdentity) ([]byte, string, error) {
	req, err := w.authedRequest(ctx)
	if err != nil {
		return nil, "", err
	}

	resp, err := req.Get(w.remotePath(identity.RemotePath))
	if err != nil {
		return nil, "", wrapTransportErr("webdav download", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, "", err
	}

	return resp.Body(), trimETag(resp.Header().Get("ETag")), nil
}

func (w *webdavProvider) Upload(ctx context.Context, _ Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error) {
	req, err := w.authedRequest(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	req.
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data)
	if ifMatch != "" {
		req.SetHeader("If-Match", `"`+ifMatch+`"`)
	}

	resp, err := req.Put(w.remotePath(identity.RemotePath))
	if err != nil {
		return UploadResult{}, wrapTransportErr("webdav upload", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{RevisionTag: trimETag(resp.Header().Get("ETag"))}
	if t, perr := http.ParseTime(resp.Header().Get("Last-Modified")); perr == nil {
		result.ModifiedUtc = t.UTC()
	} else {
		result.ModifiedUtc = time.Now().UTC()
	}
	return result, nil
}

func (w *webdavProvider) CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error) {
	path := name + ".vault"
	identity := models.VaultIdentity{
		RemotePath:   path,
		ProviderKind: models.ProviderWebDAV,
		AccountID:    account.ID,
	}

	result, err := w.Upload(ctx, account, identity, nil, "")
	if err != nil {
		return models.VaultMetadata{}, err
	}

	return models.VaultMetadata{
		Identity:          identity,
		DisplayName:       path,
		RemoteRevisionTag: result.RevisionTag,
		LastModifiedUtc:   result.ModifiedUtc,
	}, nil
}

func (w *webdavProvider) DeleteVault(ctx context.Context, _ Account, identity models.VaultIdentity) error {
	req, err := w.authedRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Delete(w.remotePath(identity.RemotePath))
	if err != nil {
		return wrapTransportErr("webdav delete", err)
	}
	return mapHTTPError(resp)
}

func (w *webdavProvider) ListChanges(_ context.Context, _ Account, _ string) (ChangePage, error) {
	return ChangePage{}, ErrChangesUnsupported
}

// trimETag strips the quoting (and weak-validator prefix) servers put around
// ETag values so tags compare cleanly across PROPFIND and header sources.
func trimETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

func lastPathSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if idx := strings.LastIndex(href, "/"); idx >= 0 {
		return href[idx+1:]
	}
	return href
}
