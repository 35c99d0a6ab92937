// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
)

// Config is the shared HTTP adapter configuration. RootPath is the backend
// folder (or path prefix) under which vault containers live.
type Config struct {
	BaseURL  string
	RootPath string
	Timeout  time.Duration
}

// httpAdapter carries the pieces every REST adapter shares: a configured
// resty client, a token source, and a logger.
type httpAdapter struct {
	client *resty.Client
	tokens TokenSource
	root   string
	logger *logger.Logger
}

func newHTTPAdapter(cfg Config, tokens TokenSource, log *logger.Logger) (httpAdapter, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return httpAdapter{}, fmt.Errorf("invalid provider base url: %w", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout)

	root := strings.Trim(cfg.RootPath, "/")
	return httpAdapter{client: client, tokens: tokens, root: root, logger: log}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// authedRequest builds a request carrying the current bearer token. Token
// retrieval failures map to ErrAuthExpired so the orchestrator surfaces
// them instead of retrying.
func (a *httpAdapter) authedRequest(ctx context.Context) (*resty.Request, error) {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	return a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+tok), nil
}

// remotePath joins the configured root with a vault file name.
func (a *httpAdapter) remotePath(name string) string {
	if a.root == "" {
		return "/" + strings.TrimLeft(name, "/")
	}
	return "/" + a.root + "/" + strings.TrimLeft(name, "/")
}
