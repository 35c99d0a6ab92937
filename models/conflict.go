package models

import "time"

// ConflictKind classifies how two versions of an item collided.
type ConflictKind string

const (
	// ConflictUpdateUpdate: both devices edited the same item; the later
	// timestamp won and the loser was kept as a shadow copy.
	ConflictUpdateUpdate ConflictKind = "update_update"

	// ConflictDeleteUpdate: one device deleted the item, another edited it;
	// the update resurrected the tombstone.
	ConflictDeleteUpdate ConflictKind = "delete_update"
)

// Conflict describes one automatically resolved merge collision. Conflicts
// are not errors: the UI receives them for visibility only and is never
// blocked on them.
type Conflict struct {
	ItemID       string       `json:"item_id"`
	Kind         ConflictKind `json:"kind"`
	WinnerDevice string       `json:"winner_device"`
	LoserDevice  string       `json:"loser_device"`

	// ShadowID is the ItemID of the retained losing copy, empty for
	// delete-update conflicts where nothing was discarded.
	ShadowID   string    `json:"shadow_id,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}
