// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package syncer is the orchestrator: it owns the per-vault sync state
// machine, decides when cycles run (debounced local edits, periodic timer,
// remote change notifications), and drives pull, reconcile and conditional
// push against the provider layer. All vault plaintext handled here lives
// only in memory while the vault is unlocked.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-vault-sync/internal/crypto"
	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/internal/provider"
	"github.com/MKhiriev/go-vault-sync/internal/scheduler"
	"github.com/MKhiriev/go-vault-sync/internal/store"
	"github.com/MKhiriev/go-vault-sync/models"
)

// Config carries the orchestrator's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	// DeviceID identifies this device in journals and container headers.
	DeviceID uuid.UUID

	// Debounce is how long after the last local edit a deferred push waits.
	// Default 2s.
	Debounce time.Duration

	// PeriodicInterval is the background full-sync cadence. Default 5m.
	PeriodicInterval time.Duration

	// BackoffFloor and BackoffCap bound the exponential retry delay for
	// transient provider failures. Defaults 10s and 1h.
	BackoffFloor time.Duration
	BackoffCap   time.Duration

	// PushRetryBudget bounds the pull-merge-push loop when conditional
	// uploads keep losing races. Default 3.
	PushRetryBudget int

	// JournalRetention caps journal rows kept per vault. Default 10000.
	JournalRetention int

	// KDFParams are the key-derivation cost parameters for this device.
	KDFParams crypto.Params
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.PeriodicInterval <= 0 {
		c.PeriodicInterval = 5 * time.Minute
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = 10 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Hour
	}
	if c.PushRetryBudget <= 0 {
		c.PushRetryBudget = 3
	}
	if c.JournalRetention <= 0 {
		c.JournalRetention = 10_000
	}
	if c.KDFParams == (crypto.Params{}) {
		c.KDFParams = crypto.DefaultParams()
	}
	return c
}

// session is the in-memory state of one open vault. Its mutex serializes
// sync cycles and content mutations for that vault; distinct vaults proceed
// concurrently.
type session struct {
	mu sync.Mutex

	identity models.VaultIdentity
	account  provider.Account
	provider provider.Provider

	// key and vault are nil while the session is locked.
	key    *crypto.Key
	header crypto.Header
	vault  *models.Vault

	phase     models.SyncPhase
	conflicts int
	lastError string

	debounce *time.Timer
}

func (s *session) locked() bool { return s.key == nil }

// Syncer coordinates all open vaults of one device.
type Syncer struct {
	cfg       Config
	store     *store.Store
	providers map[models.ProviderKind]provider.Provider
	sched     scheduler.Scheduler
	logger    *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	cursors  map[models.ProviderKind]string

	events chan models.SyncStatus

	tasks []scheduler.TaskID
}

// New assembles a Syncer. Providers are registered per backend kind; a vault
// whose kind has no adapter cannot be opened.
func New(cfg Config, st *store.Store, providers map[models.ProviderKind]provider.Provider, sched scheduler.Scheduler, log *logger.Logger) *Syncer {
	return &Syncer{
		cfg:       cfg.withDefaults(),
		store:     st,
		providers: providers,
		sched:     sched,
		logger:    log,
		sessions:  make(map[string]*session),
		cursors:   make(map[models.ProviderKind]string),
		events:    make(chan models.SyncStatus, 64),
	}
}

// Events returns the status stream. One event is published per phase
// transition and per cycle outcome. The channel is buffered; a slow consumer
// loses events rather than blocking sync.
func (s *Syncer) Events() <-chan models.SyncStatus {
	return s.events
}

// Start registers the background triggers: the periodic full sync and the
// remote change poll. Stop cancels them.
func (s *Syncer) Start(ctx context.Context) error {
	periodic, err := s.sched.Schedule(ctx, func(ctx context.Context) {
		if err := s.SyncAll(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("periodic sync finished with errors")
		}
	}, scheduler.Constraints{Interval: s.cfg.PeriodicInterval, RequiresNetwork: true})
	if err != nil {
		return fmt.Errorf("schedule periodic sync: %w", err)
	}

	poll, err := s.sched.Schedule(ctx, func(ctx context.Context) {
		s.pollRemoteChanges(ctx)
	}, scheduler.Constraints{Interval: s.cfg.PeriodicInterval / 2, RequiresNetwork: true})
	if err != nil {
		_ = s.sched.Cancel(periodic)
		return fmt.Errorf("schedule change poll: %w", err)
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, periodic, poll)
	s.mu.Unlock()
	return nil
}

// Stop cancels background triggers and locks every open vault.
func (s *Syncer) Stop() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, id := range tasks {
		_ = s.sched.Cancel(id)
	}
	for _, k := range keys {
		_ = s.LockVault(k)
	}
}

// CreateVault creates a new empty vault on the backend, derives its key from
// the master secret with a fresh salt, seals and uploads the initial
// container, and opens a session for it.
func (s *Syncer) CreateVault(ctx context.Context, kind models.ProviderKind, name, masterSecret string) (models.VaultMetadata, error) {
	prov, ok := s.providers[kind]
	if !ok {
		return models.VaultMetadata{}, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}

	account, err := prov.Authenticate(ctx)
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("authenticate %s: %w", kind, err)
	}

	meta, err := prov.CreateVault(ctx, account, name)
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("create vault on %s: %w", kind, err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("generate salt: %w", err)
	}
	key, err := crypto.DeriveKey(masterSecret, salt, crypto.KDFArgon2id, s.cfg.KDFParams)
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("derive key: %w", err)
	}
	header, err := crypto.NewHeader(crypto.KDFArgon2id, salt, s.cfg.DeviceID, time.Now().UTC().Unix())
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("build header: %w", err)
	}

	vault := models.NewVault(meta)
	blob, err := crypto.Seal(vault, key, header)
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("seal initial container: %w", err)
	}

	up, err := prov.Upload(ctx, account, meta.Identity, blob, meta.RemoteRevisionTag)
	if err != nil {
		return models.VaultMetadata{}, fmt.Errorf("upload initial container: %w", err)
	}
	meta.RemoteRevisionTag = up.RevisionTag
	meta.LastModifiedUtc = up.ModifiedUtc
	meta.FormatVersion = crypto.FormatVersionV1
	meta.SizeBytes = int64(len(blob))
	vault.Metadata = meta

	vaultKey := meta.Identity.Key()
	if err = s.store.SaveVaultMetadata(ctx, meta); err != nil {
		return models.VaultMetadata{}, err
	}
	if err = s.store.WriteBlob(vaultKey, blob); err != nil {
		return models.VaultMetadata{}, err
	}
	if err = s.store.CommitSync(ctx, models.SyncState{
		VaultKey:          vaultKey,
		LastSyncUtc:       time.Now().UTC(),
		LocalContentHash:  crypto.ContentHash(blob),
		RemoteRevisionTag: up.RevisionTag,
	}, nil); err != nil {
		return models.VaultMetadata{}, err
	}

	sess := &session{
		identity: meta.Identity,
		account:  account,
		provider: prov,
		key:      key,
		header:   header,
		vault:    vault,
		phase:    models.PhaseIdle,
	}
	s.mu.Lock()
	s.sessions[vaultKey] = sess
	s.mu.Unlock()

	s.logger.Info().Str("vault", vaultKey).Msg("vault created")
	return meta, nil
}

// OpenVault opens a session for the vault: from the cached container when
// one exists (so edits queued while offline survive a restart), otherwise
// from a fresh download. The key is derived from the master secret using the
// salt and KDF recorded in the container header. A full sync cycle runs
// immediately (pull on open).
func (s *Syncer) OpenVault(ctx context.Context, identity models.VaultIdentity, masterSecret string) error {
	prov, ok := s.providers[identity.ProviderKind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, identity.ProviderKind)
	}

	account, err := prov.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", identity.ProviderKind, err)
	}

	vaultKey := identity.Key()
	state, err := s.store.GetSyncState(ctx, vaultKey)
	if err != nil {
		return err
	}

	// Prefer the cached container. Adopting the remote wholesale here would
	// discard edits queued while this device was offline; the initial cycle
	// below pulls and merges them instead.
	blob, cacheErr := s.store.ReadBlob(vaultKey, state.LocalContentHash)
	revTag := state.RemoteRevisionTag
	if cacheErr != nil {
		blob, revTag, err = prov.Download(ctx, account, identity)
		if err != nil {
			return fmt.Errorf("download vault %s: %w", vaultKey, err)
		}
	} else {
		s.logger.Debug().Str("vault", vaultKey).Msg("opening from cached container")
	}

	header, err := crypto.UnmarshalHeader(blob)
	if err != nil {
		return fmt.Errorf("parse container header: %w", err)
	}
	key, err := crypto.DeriveKey(masterSecret, header.Salt[:], crypto.KDF(header.KDFID), s.cfg.KDFParams)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	vault, _, err := crypto.Open(blob, key)
	if err != nil {
		key.Wipe()
		return fmt.Errorf("open container %s: %w", vaultKey, err)
	}
	vault.Metadata.Identity = identity
	vault.Metadata.RemoteRevisionTag = revTag

	if err = s.store.SaveVaultMetadata(ctx, vault.Metadata); err != nil {
		key.Wipe()
		return err
	}
	if cacheErr != nil {
		if err = s.store.WriteBlob(vaultKey, blob); err != nil {
			key.Wipe()
			return err
		}
		if err = s.store.SetLocalContentHash(ctx, vaultKey, crypto.ContentHash(blob)); err != nil {
			key.Wipe()
			return err
		}
	}

	sess := &session{
		identity: identity,
		account:  account,
		provider: prov,
		key:      key,
		header:   header,
		vault:    vault,
		phase:    models.PhaseIdle,
	}
	s.mu.Lock()
	s.sessions[vaultKey] = sess
	s.mu.Unlock()

	s.logger.Info().Str("vault", vaultKey).Msg("vault opened")

	// Pull on open: reconcile anything that happened while this device was
	// away and push anything still queued. Best effort; the periodic trigger
	// retries when the remote is unreachable.
	if err = s.Sync(ctx, vaultKey); err != nil {
		s.logger.Warn().Str("vault", vaultKey).Err(err).Msg("initial sync failed")
	}
	return nil
}

// LockVault wipes the vault key and drops all plaintext from memory. The
// session stays registered in the Locked phase; Unlock restores access
// without re-downloading.
func (s *Syncer) LockVault(vaultKey string) error {
	sess, err := s.session(vaultKey)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.debounce != nil {
		sess.debounce.Stop()
		sess.debounce = nil
	}
	if sess.key != nil {
		sess.key.Wipe()
		sess.key = nil
	}
	sess.vault = nil
	sess.phase = models.PhaseLocked
	s.publish(vaultKey, sess)

	s.logger.Info().Str("vault", vaultKey).Msg("vault locked")
	return nil
}

// Unlock re-derives the key from the master secret and decrypts the cached
// container. No network access happens; the next sync cycle reconciles.
func (s *Syncer) Unlock(ctx context.Context, vaultKey, masterSecret string) error {
	sess, err := s.session(vaultKey)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.locked() {
		return nil
	}

	state, err := s.store.GetSyncState(ctx, vaultKey)
	if err != nil {
		return err
	}
	blob, err := s.store.ReadBlob(vaultKey, state.LocalContentHash)
	if err != nil {
		return err
	}

	header, err := crypto.UnmarshalHeader(blob)
	if err != nil {
		return fmt.Errorf("parse container header: %w", err)
	}
	key, err := crypto.DeriveKey(masterSecret, header.Salt[:], crypto.KDF(header.KDFID), s.cfg.KDFParams)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	vault, _, err := crypto.Open(blob, key)
	if err != nil {
		key.Wipe()
		return fmt.Errorf("unlock %s: %w", vaultKey, err)
	}

	sess.key = key
	sess.header = header
	sess.vault = vault
	sess.phase = models.PhaseIdle
	s.publish(vaultKey, sess)
	return nil
}

// Status returns a point-in-time snapshot for one vault.
func (s *Syncer) Status(ctx context.Context, vaultKey string) (models.SyncStatus, error) {
	sess, err := s.session(vaultKey)
	if err != nil {
		return models.SyncStatus{}, err
	}

	state, err := s.store.GetSyncState(ctx, vaultKey)
	if err != nil {
		return models.SyncStatus{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return models.SyncStatus{
		VaultKey:         vaultKey,
		State:            sess.phase,
		LastSyncUtc:      state.LastSyncUtc,
		PendingConflicts: sess.conflicts,
		LastError:        sess.lastError,
	}, nil
}

func (s *Syncer) session(vaultKey string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[vaultKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotOpen, vaultKey)
	}
	return sess, nil
}

// publish emits a status event without blocking. Callers hold sess.mu.
func (s *Syncer) publish(vaultKey string, sess *session) {
	status := models.SyncStatus{
		VaultKey:         vaultKey,
		State:            sess.phase,
		PendingConflicts: sess.conflicts,
		LastError:        sess.lastError,
	}
	select {
	case s.events <- status:
	default:
	}
}
