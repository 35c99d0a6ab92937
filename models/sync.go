package models

import "time"

// SyncPhase is the orchestrator's per-vault state machine position.
type SyncPhase string

const (
	PhaseIdle        SyncPhase = "idle"
	PhasePulling     SyncPhase = "pulling"
	PhaseReconciling SyncPhase = "reconciling"
	PhasePushing     SyncPhase = "pushing"
	PhaseLocked      SyncPhase = "locked"
)

// SyncState is the per-vault, per-device sync bookkeeping record. It lives
// entirely in the local store and is never transmitted.
type SyncState struct {
	VaultKey          string    `json:"vault_key"`
	LastSyncUtc       time.Time `json:"last_sync_utc"`
	LocalContentHash  string    `json:"local_content_hash"`
	RemoteRevisionTag string    `json:"remote_revision_tag"`
}

// PendingOp is a durable record of a local mutation not yet confirmed pushed.
// It is removed only after a successful push whose resulting revision tag was
// observed.
type PendingOp struct {
	ID        int64     `json:"id"`
	VaultKey  string    `json:"vault_key"`
	ItemID    string    `json:"item_id"`
	Operation Operation `json:"operation"`
	QueuedUtc time.Time `json:"queued_utc"`
}

// SyncStatus is the event payload published to UI collaborators after every
// phase transition and at the end of each cycle.
type SyncStatus struct {
	VaultKey         string    `json:"vault_key"`
	State            SyncPhase `json:"state"`
	LastSyncUtc      time.Time `json:"last_sync_utc"`
	PendingConflicts int       `json:"pending_conflicts"`
	LastError        string    `json:"last_error,omitempty"`
}
