// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package token supplies bearer tokens to provider adapters. Providers ask
// for a token on every request; the source decides whether the cached one
// is still usable.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MKhiriev/go-vault-sync/internal/provider"
	"github.com/MKhiriev/go-vault-sync/internal/secretstore"
)

// StaticProvider serves a fixed token. When the token parses as a JWT it
// fails fast with ErrAuthExpired once the exp claim has passed, saving a
// doomed round trip. Non-JWT tokens are served as-is.
type StaticProvider struct {
	token string
	now   func() time.Time
}

// NewStatic wraps a raw bearer token.
func NewStatic(tok string) *StaticProvider {
	return &StaticProvider{token: tok, now: time.Now}
}

// Token implements provider.TokenSource.
func (p *StaticProvider) Token(_ context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("%w: no token configured", provider.ErrAuthExpired)
	}

	exp, ok := expiry(p.token)
	if ok && !exp.After(p.now()) {
		return "", fmt.Errorf("%w: token expired at %s", provider.ErrAuthExpired, exp.UTC().Format(time.RFC3339))
	}
	return p.token, nil
}

// StoredProvider reads the token from a secret store on every call, so a
// re-authentication performed elsewhere takes effect without restarting the
// engine.
type StoredProvider struct {
	secrets secretstore.SecretStore
	name    string
	now     func() time.Time
}

// NewStored reads the named entry from secrets on demand.
func NewStored(secrets secretstore.SecretStore, name string) *StoredProvider {
	return &StoredProvider{secrets: secrets, name: name, now: time.Now}
}

// Token implements provider.TokenSource.
func (p *StoredProvider) Token(_ context.Context) (string, error) {
	raw, err := p.secrets.Retrieve(p.name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrAuthExpired, err)
	}

	tok := string(raw)
	exp, ok := expiry(tok)
	if ok && !exp.After(p.now()) {
		return "", fmt.Errorf("%w: stored token expired at %s", provider.ErrAuthExpired, exp.UTC().Format(time.RFC3339))
	}
	return tok, nil
}

// expiry extracts the exp claim from a JWT without verifying the signature.
// The backend remains the authority on validity; this is only an early-exit
// hint. Returns ok=false for non-JWT tokens or tokens without exp.
func expiry(tok string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
