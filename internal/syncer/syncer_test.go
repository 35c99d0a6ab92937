// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-vault-sync/internal/crypto"
	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/internal/provider"
	"github.com/MKhiriev/go-vault-sync/internal/scheduler"
	"github.com/MKhiriev/go-vault-sync/internal/store"
	"github.com/MKhiriev/go-vault-sync/models"
)

const masterSecret = "correct horse battery staple"

// ─────────────────────────── helpers ───────────────────────────

func fastKDF() crypto.Params {
	return crypto.Params{ArgonTime: 1, ArgonMemory: 64, ArgonThreads: 1, PBKDF2Iters: 1024}
}

func newLocalStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(store.Config{
		DBPath:  filepath.Join(t.TempDir(), "sync.db"),
		BlobDir: t.TempDir(),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEngine(t *testing.T, backend provider.Provider) *Syncer {
	t.Helper()
	return newEngineOn(t, backend, newLocalStore(t), uuid.New())
}

// newEngineOn builds an engine over an existing store, as after an app
// restart on the same device.
func newEngineOn(t *testing.T, backend provider.Provider, st *store.Store, deviceID uuid.UUID) *Syncer {
	t.Helper()

	cfg := Config{
		DeviceID:     deviceID,
		Debounce:     time.Hour, // explicit Sync calls only
		BackoffFloor: 10 * time.Millisecond,
		BackoffCap:   100 * time.Millisecond,
		KDFParams:    fastKDF(),
	}
	return New(cfg, st, map[models.ProviderKind]provider.Provider{
		models.ProviderMemory: backend,
	}, scheduler.NewTicker(), logger.Nop())
}

func payload(s string) json.RawMessage {
	return json.RawMessage(`{"secret":"` + s + `"}`)
}

// racingProvider delegates to a Memory backend but runs a hook before each
// conditional upload, simulating a concurrent writer winning the race.
type racingProvider struct {
	*provider.Memory

	mu   sync.Mutex
	race func()
	once bool // fire the hook only on the first upload
}

func (r *racingProvider) Upload(ctx context.Context, account provider.Account, identity models.VaultIdentity, data []byte, ifMatch string) (provider.UploadResult, error) {
	r.mu.Lock()
	hook := r.race
	if r.once {
		r.race = nil
	}
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return r.Memory.Upload(ctx, account, identity, data, ifMatch)
}

func (r *racingProvider) setRace(once bool, hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.once = once
	r.race = hook
}

// ─────────────────────────── lifecycle ───────────────────────────

func TestCreateAndReopenOnSecondDevice(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)

	vaultKey := meta.Identity.Key()
	item, err := deviceA.PutItem(ctx, vaultKey, "", payload("login-1"))
	require.NoError(t, err)
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	got, err := deviceB.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("login-1")), string(got.Payload))
}

func TestOpenVault_WrongSecretFailsClosed(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)

	deviceB := newEngine(t, backend)
	err = deviceB.OpenVault(ctx, meta.Identity, "wrong secret")
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrAuthentication)

	_, err = deviceB.GetItem(meta.Identity.Key(), "anything")
	assert.ErrorIs(t, err, ErrVaultNotOpen)
}

func TestLockAndUnlock(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	item, err := engine.PutItem(ctx, vaultKey, "", payload("v"))
	require.NoError(t, err)
	require.NoError(t, engine.Sync(ctx, vaultKey))

	require.NoError(t, engine.LockVault(vaultKey))

	// ── every content operation is rejected while locked ──
	_, err = engine.PutItem(ctx, vaultKey, "", payload("x"))
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = engine.GetItem(vaultKey, item.ItemID)
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, engine.Sync(ctx, vaultKey), ErrVaultLocked)

	// ── wrong secret keeps it locked ──
	require.Error(t, engine.Unlock(ctx, vaultKey, "nope"))
	_, err = engine.GetItem(vaultKey, item.ItemID)
	assert.ErrorIs(t, err, ErrVaultLocked)

	// ── correct secret restores the session from the local cache ──
	require.NoError(t, engine.Unlock(ctx, vaultKey, masterSecret))
	got, err := engine.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("v")), string(got.Payload))
}

func TestUnlockAfterUnsyncedEdit(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	// Edit without syncing: the reseal must keep the cached blob and its
	// recorded hash in step, or the lock/unlock round trip fails.
	item, err := engine.PutItem(ctx, vaultKey, "", payload("unsynced"))
	require.NoError(t, err)

	require.NoError(t, engine.LockVault(vaultKey))
	require.NoError(t, engine.Unlock(ctx, vaultKey, masterSecret))

	got, err := engine.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("unsynced")), string(got.Payload))
}

func TestReopenAfterRestartKeepsOfflineEdit(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	st := newLocalStore(t)
	deviceID := uuid.New()

	engine := newEngineOn(t, backend, st, deviceID)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	// Edit while the deferred push is still pending, then "restart" the app:
	// a fresh engine over the same store reopens the vault.
	item, err := engine.PutItem(ctx, vaultKey, "", payload("queued"))
	require.NoError(t, err)

	restarted := newEngineOn(t, backend, st, deviceID)
	require.NoError(t, restarted.OpenVault(ctx, meta.Identity, masterSecret))

	// The queued edit survived the reopen...
	got, err := restarted.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("queued")), string(got.Payload))

	// ...reached the backend through the initial cycle...
	other := newEngine(t, backend)
	require.NoError(t, other.OpenVault(ctx, meta.Identity, masterSecret))
	remote, err := other.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("queued")), string(remote.Payload))

	// ...and only then was its pending op acknowledged.
	ops, err := st.ListPendingOps(ctx, vaultKey)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// ─────────────────────────── convergence ───────────────────────────

func TestDisjointOfflineEditsConverge(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	// Both devices edit different items while not syncing.
	itemX, err := deviceA.PutItem(ctx, vaultKey, "", payload("x"))
	require.NoError(t, err)
	itemY, err := deviceB.PutItem(ctx, vaultKey, "", payload("y"))
	require.NoError(t, err)

	require.NoError(t, deviceA.Sync(ctx, vaultKey))
	require.NoError(t, deviceB.Sync(ctx, vaultKey))
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	for _, engine := range []*Syncer{deviceA, deviceB} {
		gotX, err := engine.GetItem(vaultKey, itemX.ItemID)
		require.NoError(t, err)
		assert.JSONEq(t, string(payload("x")), string(gotX.Payload))

		gotY, err := engine.GetItem(vaultKey, itemY.ItemID)
		require.NoError(t, err)
		assert.JSONEq(t, string(payload("y")), string(gotY.Payload))
	}
}

func TestConcurrentEditKeepsLoserAsShadow(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	shared, err := deviceA.PutItem(ctx, vaultKey, "", payload("base"))
	require.NoError(t, err)
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	// Same item edited on both devices; B is strictly later.
	_, err = deviceA.PutItem(ctx, vaultKey, shared.ItemID, payload("from-a"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = deviceB.PutItem(ctx, vaultKey, shared.ItemID, payload("from-b"))
	require.NoError(t, err)

	require.NoError(t, deviceA.Sync(ctx, vaultKey))
	require.NoError(t, deviceB.Sync(ctx, vaultKey))
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	for _, engine := range []*Syncer{deviceA, deviceB} {
		winner, err := engine.GetItem(vaultKey, shared.ItemID)
		require.NoError(t, err)
		assert.JSONEq(t, string(payload("from-b")), string(winner.Payload),
			"later write wins")

		items, err := engine.ListItems(vaultKey)
		require.NoError(t, err)

		var shadow *models.VaultItem
		for i := range items {
			if items[i].ConflictOf == shared.ItemID {
				shadow = &items[i]
			}
		}
		require.NotNil(t, shadow, "losing version must survive as a shadow copy")
		assert.JSONEq(t, string(payload("from-a")), string(shadow.Payload))
	}
}

func TestDeleteVsUpdate_UpdateResurrects(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	shared, err := deviceA.PutItem(ctx, vaultKey, "", payload("base"))
	require.NoError(t, err)
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	require.NoError(t, deviceA.DeleteItem(ctx, vaultKey, shared.ItemID))
	time.Sleep(5 * time.Millisecond)
	_, err = deviceB.PutItem(ctx, vaultKey, shared.ItemID, payload("updated"))
	require.NoError(t, err)

	require.NoError(t, deviceA.Sync(ctx, vaultKey))
	require.NoError(t, deviceB.Sync(ctx, vaultKey))
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	for _, engine := range []*Syncer{deviceA, deviceB} {
		got, err := engine.GetItem(vaultKey, shared.ItemID)
		require.NoError(t, err, "update must resurrect the tombstone")
		assert.JSONEq(t, string(payload("updated")), string(got.Payload))
	}
}

func TestTombstonePropagates(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	item, err := deviceA.PutItem(ctx, vaultKey, "", payload("doomed"))
	require.NoError(t, err)
	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	require.NoError(t, deviceA.DeleteItem(ctx, vaultKey, item.ItemID))
	require.NoError(t, deviceA.Sync(ctx, vaultKey))
	require.NoError(t, deviceB.Sync(ctx, vaultKey))

	_, err = deviceB.GetItem(vaultKey, item.ItemID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// ─────────────────────────── race and retry paths ───────────────────────────

func TestPreconditionRace_RetriesAndMerges(t *testing.T) {
	backend := provider.NewMemory("alice")
	racer := &racingProvider{Memory: backend}
	ctx := context.Background()

	deviceA := newEngine(t, racer)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	itemX, err := deviceA.PutItem(ctx, vaultKey, "", payload("x"))
	require.NoError(t, err)

	// Between A's pull and push, B lands an edit: A's conditional upload must
	// lose, re-pull, and merge B's change in.
	var itemY models.VaultItem
	racer.setRace(true, func() {
		var raceErr error
		itemY, raceErr = deviceB.PutItem(ctx, vaultKey, "", payload("y"))
		require.NoError(t, raceErr)
		require.NoError(t, deviceB.Sync(ctx, vaultKey))
	})

	require.NoError(t, deviceA.Sync(ctx, vaultKey))

	gotX, err := deviceA.GetItem(vaultKey, itemX.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("x")), string(gotX.Payload))
	gotY, err := deviceA.GetItem(vaultKey, itemY.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("y")), string(gotY.Payload))
}

func TestPreconditionRace_BudgetExhausted(t *testing.T) {
	backend := provider.NewMemory("alice")
	racer := &racingProvider{Memory: backend}
	ctx := context.Background()

	deviceA := newEngine(t, racer)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	_, err = deviceA.PutItem(ctx, vaultKey, "", payload("x"))
	require.NoError(t, err)

	// A writer that wins every race: the bounded loop must give up.
	racer.setRace(false, func() {
		_, raceErr := deviceB.PutItem(ctx, vaultKey, "", payload("noise"))
		require.NoError(t, raceErr)
		require.NoError(t, deviceB.Sync(ctx, vaultKey))
	})

	err = deviceA.Sync(ctx, vaultKey)
	assert.ErrorIs(t, err, ErrPushRace)
}

func TestTransientFailure_BackoffThenSuccess(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	item, err := engine.PutItem(ctx, vaultKey, "", payload("v"))
	require.NoError(t, err)

	backend.FailUploads = 2
	require.NoError(t, engine.SyncWithRetry(ctx, vaultKey))

	// The push landed despite the injected failures.
	verifier := newEngine(t, backend)
	require.NoError(t, verifier.OpenVault(ctx, meta.Identity, masterSecret))
	got, err := verifier.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("v")), string(got.Payload))
}

func TestSyncIdempotent(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	_, err = engine.PutItem(ctx, vaultKey, "", payload("v"))
	require.NoError(t, err)
	require.NoError(t, engine.Sync(ctx, vaultKey))

	_, tagAfterFirst, err := backend.Download(ctx, provider.Account{}, meta.Identity)
	require.NoError(t, err)

	// Further cycles with nothing queued never touch the remote revision.
	require.NoError(t, engine.Sync(ctx, vaultKey))
	require.NoError(t, engine.Sync(ctx, vaultKey))

	_, tagAfterThird, err := backend.Download(ctx, provider.Account{}, meta.Identity)
	require.NoError(t, err)
	assert.Equal(t, tagAfterFirst, tagAfterThird)
}

// ─────────────────────────── triggers ───────────────────────────

func TestChangePollTriggersPull(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	deviceA := newEngine(t, backend)
	meta, err := deviceA.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	deviceB := newEngine(t, backend)
	require.NoError(t, deviceB.OpenVault(ctx, meta.Identity, masterSecret))

	item, err := deviceB.PutItem(ctx, vaultKey, "", payload("from-b"))
	require.NoError(t, err)
	require.NoError(t, deviceB.Sync(ctx, vaultKey))

	deviceA.pollRemoteChanges(ctx)

	got, err := deviceA.GetItem(vaultKey, item.ItemID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("from-b")), string(got.Payload))
}

func TestDebouncedPush(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	st, err := store.Open(store.Config{
		DBPath:  filepath.Join(t.TempDir(), "sync.db"),
		BlobDir: t.TempDir(),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := New(Config{
		DeviceID:     uuid.New(),
		Debounce:     20 * time.Millisecond,
		BackoffFloor: 10 * time.Millisecond,
		KDFParams:    fastKDF(),
	}, st, map[models.ProviderKind]provider.Provider{
		models.ProviderMemory: backend,
	}, scheduler.NewTicker(), logger.Nop())

	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	item, err := engine.PutItem(ctx, vaultKey, "", payload("deferred"))
	require.NoError(t, err)

	// The push fires on its own after the debounce window.
	require.Eventually(t, func() bool {
		verifier := newEngine(t, backend)
		if err := verifier.OpenVault(ctx, meta.Identity, masterSecret); err != nil {
			return false
		}
		_, err := verifier.GetItem(vaultKey, item.ItemID)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSyncAll_IsolatesFailures(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	metaA, err := engine.CreateVault(ctx, models.ProviderMemory, "work", masterSecret)
	require.NoError(t, err)
	metaB, err := engine.CreateVault(ctx, models.ProviderMemory, "home", masterSecret)
	require.NoError(t, err)

	_, err = engine.PutItem(ctx, metaA.Identity.Key(), "", payload("a"))
	require.NoError(t, err)
	_, err = engine.PutItem(ctx, metaB.Identity.Key(), "", payload("b"))
	require.NoError(t, err)

	// One vault's remote file disappears; the other must still sync.
	require.NoError(t, backend.DeleteVault(ctx, provider.Account{}, metaA.Identity))

	err = engine.SyncAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), metaA.Identity.Key())

	status, err := engine.Status(ctx, metaB.Identity.Key())
	require.NoError(t, err)
	assert.Empty(t, status.LastError)
	assert.False(t, status.LastSyncUtc.IsZero())
}

func TestEventsPublished(t *testing.T) {
	backend := provider.NewMemory("alice")
	ctx := context.Background()

	engine := newEngine(t, backend)
	meta, err := engine.CreateVault(ctx, models.ProviderMemory, "personal", masterSecret)
	require.NoError(t, err)
	vaultKey := meta.Identity.Key()

	_, err = engine.PutItem(ctx, vaultKey, "", payload("v"))
	require.NoError(t, err)
	require.NoError(t, engine.Sync(ctx, vaultKey))

	seen := make(map[models.SyncPhase]bool)
drain:
	for {
		select {
		case ev := <-engine.Events():
			require.Equal(t, vaultKey, ev.VaultKey)
			seen[ev.State] = true
		default:
			break drain
		}
	}

	assert.True(t, seen[models.PhasePulling], "pulling phase published")
	assert.True(t, seen[models.PhasePushing], "pushing phase published")
	assert.True(t, seen[models.PhaseIdle], "final idle published")
}
