package models

import (
	"sort"
	"time"
)

// Operation is the kind of mutation recorded in the change journal.
type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeJournalEntry records one local mutation. ChangeID is a monotonic
// per-device counter, so within one device the journal gives a strict local
// order. Across devices only the revision-tag precondition check orders
// writes; timestamps are advisory.
type ChangeJournalEntry struct {
	ItemID       string    `json:"item_id"`
	ChangeID     int64     `json:"change_id"`
	Operation    Operation `json:"operation"`
	TimestampUtc time.Time `json:"timestamp_utc"`
	DeviceID     string    `json:"device_id"`
}

// SortedJournal returns a copy of entries in canonical (DeviceID, ChangeID)
// order. The input is not modified.
func SortedJournal(entries []ChangeJournalEntry) []ChangeJournalEntry {
	out := make([]ChangeJournalEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].ChangeID < out[j].ChangeID
	})
	return out
}

// JournalSince filters entries to those with TimestampUtc strictly after the
// given instant. A zero since returns all entries.
func JournalSince(entries []ChangeJournalEntry, since time.Time) []ChangeJournalEntry {
	if since.IsZero() {
		return SortedJournal(entries)
	}
	var out []ChangeJournalEntry
	for _, e := range entries {
		if e.TimestampUtc.After(since) {
			out = append(out, e)
		}
	}
	return SortedJournal(out)
}
