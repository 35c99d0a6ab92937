// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package secretstore keeps small secrets a device must hold between runs:
// provider OAuth tokens and wrapped master secrets. Entries are opaque byte
// strings keyed by name.
package secretstore

import (
	"errors"
	"sync"
)

// ErrSecretNotFound is returned when no entry exists under the given name.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore stores named secrets at rest.
type SecretStore interface {
	Store(name string, secret []byte) error
	Retrieve(name string) ([]byte, error)
	Delete(name string) error
}

// Memory is an in-memory SecretStore for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string][]byte)}
}

// Store implements SecretStore.
func (m *Memory) Store(name string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(secret))
	copy(cp, secret)
	m.secrets[name] = cp
	return nil
}

// Retrieve implements SecretStore.
func (m *Memory) Retrieve(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return cp, nil
}

// Delete implements SecretStore. Deleting a missing entry is not an error.
func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, name)
	return nil
}
