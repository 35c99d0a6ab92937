// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/MKhiriev/go-vault-sync/internal/crypto"
	"github.com/MKhiriev/go-vault-sync/internal/provider"
	"github.com/MKhiriev/go-vault-sync/internal/resolver"
	"github.com/MKhiriev/go-vault-sync/models"
)

// Sync runs one full cycle for the vault: pull, reconcile, conditional push,
// atomic local commit. The session lock serializes cycles per vault; a
// second trigger arriving mid-cycle blocks until this one finishes, then
// runs against fresh state.
func (s *Syncer) Sync(ctx context.Context, vaultKey string) error {
	sess, err := s.session(vaultKey)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.locked() {
		return fmt.Errorf("%w: %s", ErrVaultLocked, vaultKey)
	}

	err = s.cycle(ctx, vaultKey, sess)

	if err != nil {
		sess.lastError = err.Error()
	} else {
		sess.lastError = ""
	}
	sess.phase = models.PhaseIdle
	s.publish(vaultKey, sess)
	return err
}

// cycle is the pull-merge-push loop, bounded by the push retry budget.
// Callers hold sess.mu.
func (s *Syncer) cycle(ctx context.Context, vaultKey string, sess *session) error {
	log := s.logger.WithVault(vaultKey)

	state, err := s.store.GetSyncState(ctx, vaultKey)
	if err != nil {
		return err
	}
	pending, err := s.store.ListPendingOps(ctx, vaultKey)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < s.cfg.PushRetryBudget; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		sess.phase = models.PhasePulling
		s.publish(vaultKey, sess)

		blob, remoteTag, err := sess.provider.Download(ctx, sess.account, sess.identity)
		if err != nil {
			return fmt.Errorf("pull %s: %w", vaultKey, err)
		}

		// Fast path: remote unchanged and nothing queued locally.
		if remoteTag == state.RemoteRevisionTag && len(pending) == 0 {
			log.Debug().Msg("nothing to sync")
			return nil
		}

		remote, _, err := crypto.Open(blob, sess.key)
		if err != nil {
			return fmt.Errorf("open remote container: %w", err)
		}

		sess.phase = models.PhaseReconciling
		s.publish(vaultKey, sess)

		merged := resolver.Merge(sess.vault, remote, state.LastSyncUtc)
		newVault := &models.Vault{
			Metadata: sess.vault.Metadata,
			Items:    merged.Items,
			Journal:  merged.Journal,
		}

		// Pull only: nothing queued locally, so the merge result is the
		// remote state. Adopt it without uploading.
		if len(pending) == 0 {
			return s.commit(ctx, vaultKey, sess, newVault, blob,
				provider.UploadResult{RevisionTag: remoteTag, ModifiedUtc: time.Now().UTC()}, merged, nil)
		}

		sess.phase = models.PhasePushing
		s.publish(vaultKey, sess)

		sealed, err := crypto.Seal(newVault, sess.key, sess.header)
		if err != nil {
			return fmt.Errorf("seal merged container: %w", err)
		}

		up, err := sess.provider.Upload(ctx, sess.account, sess.identity, sealed, remoteTag)
		if errors.Is(err, provider.ErrPreconditionFailed) {
			// Someone pushed between our pull and push. Re-pull and re-merge
			// against the newer remote.
			log.Debug().Int("attempt", attempt+1).Msg("conditional upload lost the race")
			continue
		}
		if err != nil {
			return fmt.Errorf("push %s: %w", vaultKey, err)
		}

		return s.commit(ctx, vaultKey, sess, newVault, sealed, up, merged, pending)
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrPushRace, vaultKey, s.cfg.PushRetryBudget)
}

// commit makes the cycle's outcome durable: blob first (rename into place),
// then sync state and pending-op acks in one transaction. A crash between
// the two leaves a consistent state the next cycle's hash check detects.
func (s *Syncer) commit(ctx context.Context, vaultKey string, sess *session, vault *models.Vault, sealed []byte, up provider.UploadResult, merged resolver.Result, pending []models.PendingOp) error {
	if err := s.store.WriteBlob(vaultKey, sealed); err != nil {
		return err
	}

	acked := make([]int64, len(pending))
	for i, op := range pending {
		acked[i] = op.ID
	}

	now := time.Now().UTC()
	state := models.SyncState{
		VaultKey:          vaultKey,
		LastSyncUtc:       now,
		LocalContentHash:  crypto.ContentHash(sealed),
		RemoteRevisionTag: up.RevisionTag,
	}
	if err := s.store.CommitSync(ctx, state, acked); err != nil {
		return err
	}

	vault.Metadata.RemoteRevisionTag = up.RevisionTag
	vault.Metadata.LastModifiedUtc = up.ModifiedUtc
	vault.Metadata.SizeBytes = int64(len(sealed))
	sess.vault = vault
	sess.conflicts = len(merged.Conflicts)

	if err := s.store.SaveVaultMetadata(ctx, vault.Metadata); err != nil {
		return err
	}
	if err := s.store.TrimJournal(ctx, vaultKey, s.cfg.JournalRetention, state.LastSyncUtc); err != nil {
		s.logger.Warn().Str("vault", vaultKey).Err(err).Msg("journal trim failed")
	}

	log := s.logger.WithVault(vaultKey)
	log.Info().
		Int("items", len(vault.Items)).
		Int("conflicts", len(merged.Conflicts)).
		Str("revision", up.RevisionTag).
		Msg("sync cycle committed")
	return nil
}

// SyncWithRetry wraps Sync with exponential backoff for transient provider
// failures: floor-based exponential delay capped at the configured ceiling,
// overridden upward when the backend supplied a Retry-After. Non-transient
// errors return immediately.
func (s *Syncer) SyncWithRetry(ctx context.Context, vaultKey string) error {
	backoff := retry.WithCappedDuration(s.cfg.BackoffCap, retry.NewExponential(s.cfg.BackoffFloor))

	for {
		err := s.Sync(ctx, vaultKey)
		if err == nil || !errors.Is(err, provider.ErrRetryable) {
			return err
		}

		delay, stop := backoff.Next()
		if stop {
			return err
		}
		if ra, ok := provider.RetryAfter(err); ok && ra > delay {
			delay = ra
		}

		s.logger.Debug().Str("vault", vaultKey).Dur("delay", delay).Err(err).Msg("transient failure, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// SyncAll syncs every open, unlocked vault concurrently. Per-vault failures
// are isolated: one vault's error never stops the others, and the combined
// error reports each failed vault.
func (s *Syncer) SyncAll(ctx context.Context) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.sessions))
	for k, sess := range s.sessions {
		sess.mu.Lock()
		skip := sess.locked()
		sess.mu.Unlock()
		if !skip {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	// Plain group, not WithContext: one vault's failure must not cancel the
	// others mid-cycle.
	var g errgroup.Group
	for _, vaultKey := range keys {
		vaultKey := vaultKey
		g.Go(func() error {
			if err := s.Sync(ctx, vaultKey); err != nil {
				return fmt.Errorf("%s: %w", vaultKey, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// pollRemoteChanges asks each distinct provider for its change feed and
// triggers a cycle for every open vault the feed names. Backends without
// delta support fall back to comparing listed revision tags.
func (s *Syncer) pollRemoteChanges(ctx context.Context) {
	type probe struct {
		prov    provider.Provider
		account provider.Account
		kind    models.ProviderKind
	}

	s.mu.RLock()
	probes := make(map[models.ProviderKind]probe)
	open := make(map[string]bool, len(s.sessions))
	for k, sess := range s.sessions {
		open[k] = true
		kind := sess.identity.ProviderKind
		if _, ok := probes[kind]; !ok {
			probes[kind] = probe{prov: sess.provider, account: sess.account, kind: kind}
		}
	}
	s.mu.RUnlock()

	for kind, p := range probes {
		s.mu.RLock()
		cursor := s.cursors[kind]
		s.mu.RUnlock()

		changed, nextCursor, err := s.fetchChanges(ctx, p.prov, p.account, cursor)
		if err != nil {
			s.logger.Warn().Str("provider", p.prov.Name()).Err(err).Msg("change poll failed")
			continue
		}

		s.mu.Lock()
		s.cursors[kind] = nextCursor
		s.mu.Unlock()

		for _, meta := range changed {
			vaultKey := meta.Identity.Key()
			if !open[vaultKey] {
				continue
			}
			if err := s.Sync(ctx, vaultKey); err != nil {
				s.logger.Warn().Str("vault", vaultKey).Err(err).Msg("change-triggered sync failed")
			}
		}
	}
}

// fetchChanges drains the provider's change feed from cursor. On
// ErrChangesUnsupported it lists all vaults instead and reports those whose
// revision tag differs from the locally stored one.
func (s *Syncer) fetchChanges(ctx context.Context, prov provider.Provider, account provider.Account, cursor string) ([]models.VaultMetadata, string, error) {
	var changed []models.VaultMetadata

	for {
		page, err := prov.ListChanges(ctx, account, cursor)
		if errors.Is(err, provider.ErrChangesUnsupported) {
			return s.diffByListing(ctx, prov, account)
		}
		if err != nil {
			return nil, cursor, err
		}

		changed = append(changed, page.Changed...)
		cursor = page.Cursor
		if !page.HasMore {
			return changed, cursor, nil
		}
	}
}

func (s *Syncer) diffByListing(ctx context.Context, prov provider.Provider, account provider.Account) ([]models.VaultMetadata, string, error) {
	listed, err := prov.ListVaults(ctx, account)
	if err != nil {
		return nil, "", err
	}

	var changed []models.VaultMetadata
	for _, meta := range listed {
		local, err := s.store.GetVaultMetadata(ctx, meta.Identity.Key())
		if err != nil || local.RemoteRevisionTag != meta.RemoteRevisionTag {
			changed = append(changed, meta)
		}
	}
	return changed, "", nil
}
