// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package resolver merges two versions of a vault's item set using their
// change journals. It is a purely in-memory comparison with no storage layer
// or logger: the operation is stateless and produces no side effects, so the
// orchestrator can re-run it safely after every re-pull.
package resolver

import (
	"fmt"
	"time"

	"github.com/MKhiriev/go-vault-sync/models"
)

// Result is the outcome of one merge: the reconciled item set, the unified
// journal, and the list of automatically resolved conflicts for UI
// visibility. The hard invariant: no version of any item is silently
// discarded — every merge loser survives as a shadow copy.
type Result struct {
	Items     map[string]models.VaultItem
	Journal   []models.ChangeJournalEntry
	Conflicts []models.Conflict
}

// Merge reconciles local and remote at item granularity, never whole-file.
//
// Affected item IDs are partitioned using the journals since lastSync:
//   - changed on one side only → that side's version applies cleanly;
//   - changed on both sides   → Last-Write-Wins on UpdatedAtUtc, the losing
//     version is preserved as a shadow copy flagged ConflictOf;
//   - delete vs update        → the update wins and resurrects the
//     tombstone, logged as a resolved conflict.
//
// Equal timestamps break on lexicographic device ID comparison (the greater
// ID wins). Deterministic, not security-sensitive; it exists so repeated
// merges of the same inputs are reproducible.
func Merge(local, remote *models.Vault, lastSync time.Time) Result {
	localChanged := changedSet(local.Journal, lastSync)
	remoteChanged := changedSet(remote.Journal, lastSync)

	res := Result{
		Items:   make(map[string]models.VaultItem, len(remote.Items)),
		Journal: unionJournal(local.Journal, remote.Journal),
	}

	for _, id := range unionIDs(local.Items, remote.Items) {
		li, lok := local.Items[id]
		ri, rok := remote.Items[id]

		switch {
		case lok && !rok:
			// Never pushed (or the remote journal was trimmed past it):
			// keep the only copy that exists.
			res.Items[id] = li

		case rok && !lok:
			res.Items[id] = ri

		case localChanged[id] && !remoteChanged[id]:
			res.Items[id] = li

		case remoteChanged[id] && !localChanged[id]:
			res.Items[id] = ri

		case !localChanged[id] && !remoteChanged[id]:
			// Untouched on both sides since last sync; the copies agree.
			res.Items[id] = ri

		default:
			mergeBothChanged(&res, id, li, ri)
		}
	}

	return res
}

// mergeBothChanged handles the only genuinely conflicting partition: the
// item was edited on both sides since the last sync.
func mergeBothChanged(res *Result, id string, local, remote models.VaultItem) {
	switch {
	case local.UpdatedAtUtc.Equal(remote.UpdatedAtUtc) && local.UpdatedByDevice == remote.UpdatedByDevice:
		// Same version observed through both journals (e.g. a first sync
		// with no prior watermark). Not a conflict.
		res.Items[id] = remote

	case local.Deleted && remote.Deleted:
		// Both sides agree the item is gone; keep the later tombstone.
		if secondWins(local, remote) {
			res.Items[id] = remote
		} else {
			res.Items[id] = local
		}

	case local.Deleted != remote.Deleted:
		// Delete vs update: the update always resurrects the tombstone.
		winner, loser := local, remote
		if local.Deleted {
			winner, loser = remote, local
		}
		winner.Deleted = false
		res.Items[id] = winner
		res.Conflicts = append(res.Conflicts, models.Conflict{
			ItemID:       id,
			Kind:         models.ConflictDeleteUpdate,
			WinnerDevice: winner.UpdatedByDevice,
			LoserDevice:  loser.UpdatedByDevice,
			ResolvedAt:   time.Now().UTC(),
		})

	default:
		winner, loser := local, remote
		if secondWins(local, remote) {
			winner, loser = remote, local
		}

		shadow := loser
		shadow.ItemID = shadowID(id, loser)
		shadow.ConflictOf = id

		res.Items[id] = winner
		res.Items[shadow.ItemID] = shadow
		res.Conflicts = append(res.Conflicts, models.Conflict{
			ItemID:       id,
			Kind:         models.ConflictUpdateUpdate,
			WinnerDevice: winner.UpdatedByDevice,
			LoserDevice:  loser.UpdatedByDevice,
			ShadowID:     shadow.ItemID,
			ResolvedAt:   time.Now().UTC(),
		})
	}
}

// secondWins reports whether b is the LWW winner over a: later
// UpdatedAtUtc, ties broken by the lexicographically greater device ID.
func secondWins(a, b models.VaultItem) bool {
	switch {
	case a.UpdatedAtUtc.After(b.UpdatedAtUtc):
		return false
	case b.UpdatedAtUtc.After(a.UpdatedAtUtc):
		return true
	default:
		return b.UpdatedByDevice >= a.UpdatedByDevice
	}
}

// shadowID derives a stable, collision-free ID for a retained merge loser.
func shadowID(id string, loser models.VaultItem) string {
	return fmt.Sprintf("%s~conflict~%s~%d", id, loser.UpdatedByDevice, loser.UpdatedAtUtc.UnixMilli())
}

func changedSet(journal []models.ChangeJournalEntry, since time.Time) map[string]bool {
	set := make(map[string]bool)
	for _, e := range models.JournalSince(journal, since) {
		set[e.ItemID] = true
	}
	return set
}

// unionJournal merges two journals, deduplicating on (DeviceID, ChangeID),
// and returns them in canonical order.
func unionJournal(a, b []models.ChangeJournalEntry) []models.ChangeJournalEntry {
	type key struct {
		device   string
		changeID int64
	}

	seen := make(map[key]bool, len(a)+len(b))
	merged := make([]models.ChangeJournalEntry, 0, len(a)+len(b))
	for _, e := range append(append([]models.ChangeJournalEntry{}, a...), b...) {
		k := key{e.DeviceID, e.ChangeID}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, e)
	}
	return models.SortedJournal(merged)
}

func unionIDs(a, b map[string]models.VaultItem) []string {
	ids := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for id := range a {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range b {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}
