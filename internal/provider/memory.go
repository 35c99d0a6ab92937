// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MKhiriev/go-vault-sync/models"
)

// Memory is the in-memory Provider used by engine tests and as the reference
// implementation of the conditional-write contract. It implements real
// If-Match semantics and a monotonic change cursor, so orchestrator tests
// can simulate concurrent writers and delta polling without a network.
type Memory struct {
	account Account

	mu     sync.Mutex
	files  map[string]*memoryFile
	serial int64 // revision + cursor counter

	// FailUploads, when > 0, makes the next N uploads fail with a transient
	// error. Used to exercise backoff paths in tests.
	FailUploads int
}

type memoryFile struct {
	name     string
	data     []byte
	revision string
	modified time.Time
	serial   int64
}

// NewMemory returns an empty in-memory backend owned by the given account.
func NewMemory(accountID string) *Memory {
	return &Memory{
		account: Account{ID: accountID, Token: "memory"},
		files:   make(map[string]*memoryFile),
	}
}

func (m *Memory) Name() string { return string(models.ProviderMemory) }

func (m *Memory) Authenticate(_ context.Context) (Account, error) {
	return m.account, nil
}

func (m *Memory) ListVaults(_ context.Context, _ Account) ([]models.VaultMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.VaultMetadata, 0, len(m.files))
	for path, f := range m.files {
		out = append(out, m.metadataLocked(path, f))
	}
	return out, nil
}

func (m *Memory) Download(_ context.Context, _ Account, identity models.VaultIdentity) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[identity.RemotePath]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, identity.RemotePath)
	}

	data := make([]byte, len(f.data))
	copy(data, f.data)
	return data, f.revision, nil
}

func (m *Memory) Upload(_ context.Context, _ Account, identity models.VaultIdentity, data []byte, ifMatch string) (UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUploads > 0 {
		m.FailUploads--
		return UploadResult{}, &TransientError{Status: 503, cause: fmt.Errorf("injected upload failure")}
	}

	f, ok := m.files[identity.RemotePath]
	if ifMatch != "" {
		if !ok {
			return UploadResult{}, fmt.Errorf("%w: %s", ErrNotFound, identity.RemotePath)
		}
		if f.revision != ifMatch {
			return UploadResult{}, fmt.Errorf("%w: have %s, want %s", ErrPreconditionFailed, f.revision, ifMatch)
		}
	}

	if !ok {
		f = &memoryFile{name: identity.RemotePath}
		m.files[identity.RemotePath] = f
	}

	f.data = make([]byte, len(data))
	copy(f.data, data)
	f.modified = time.Now().UTC()
	m.serial++
	f.serial = m.serial
	f.revision = "rev-" + strconv.FormatInt(m.serial, 10)

	return UploadResult{RevisionTag: f.revision, ModifiedUtc: f.modified}, nil
}

func (m *Memory) CreateVault(ctx context.Context, account Account, name string) (models.VaultMetadata, error) {
	identity := models.VaultIdentity{
		RemotePath:   "/" + name + ".vault",
		ProviderKind: models.ProviderMemory,
		AccountID:    m.account.ID,
	}

	m.mu.Lock()
	if _, exists := m.files[identity.RemotePath]; exists {
		m.mu.Unlock()
		return models.VaultMetadata{}, fmt.Errorf("vault %q already exists", name)
	}
	m.mu.Unlock()

	if _, err := m.Upload(ctx, account, identity, nil, ""); err != nil {
		return models.VaultMetadata{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadataLocked(identity.RemotePath, m.files[identity.RemotePath]), nil
}

func (m *Memory) DeleteVault(_ context.Context, _ Account, identity models.VaultIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[identity.RemotePath]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, identity.RemotePath)
	}
	delete(m.files, identity.RemotePath)
	return nil
}

// ListChanges returns files whose serial is greater than the cursor. The
// cursor is the highest serial observed, so repeated polls with the returned
// cursor yield nothing until a new upload happens.
func (m *Memory) ListChanges(_ context.Context, _ Account, cursor string) (ChangePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var since int64
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return ChangePage{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		since = parsed
	}

	page := ChangePage{Cursor: strconv.FormatInt(m.serial, 10)}
	for path, f := range m.files {
		if f.serial > since {
			page.Changed = append(page.Changed, m.metadataLocked(path, f))
		}
	}
	return page, nil
}

func (m *Memory) metadataLocked(path string, f *memoryFile) models.VaultMetadata {
	return models.VaultMetadata{
		Identity: models.VaultIdentity{
			RemotePath:   path,
			ProviderKind: models.ProviderMemory,
			AccountID:    m.account.ID,
		},
		DisplayName:       path,
		SizeBytes:         int64(len(f.data)),
		RemoteRevisionTag: f.revision,
		LastModifiedUtc:   f.modified,
	}
}
