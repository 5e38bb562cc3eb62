package domain

import (
	"strings"
	"time"
)

// DefaultArchiveNote is written on every automatic archival.
const DefaultArchiveNote = "automatic end of tenure (purna tugas)"

// HistoryRecord is an archived position snapshot plus transition metadata.
type HistoryRecord struct {
	Position   Position
	ArchivedAt time.Time
	Note       string
}

// NewHistoryRecord snapshots p for the history store and marks it StatusRetired.
func NewHistoryRecord(p Position, note string, now time.Time) HistoryRecord {
	p.Status = StatusRetired
	note = strings.TrimSpace(note)
	if note == "" {
		note = DefaultArchiveNote
	}
	return HistoryRecord{
		Position:   p,
		ArchivedAt: now.UTC(),
		Note:       note,
	}
}

// ID returns the identifier shared with the original active record.
func (h HistoryRecord) ID() string {
	return h.Position.ID
}

// State is always archived for history records.
func (h HistoryRecord) State() PositionState {
	return StateArchived
}

// Restore clears the archival marker and returns the record for the active store.
func (h HistoryRecord) Restore(now time.Time) Position {
	p := h.Position
	if p.Status == StatusRetired {
		p.Status = ""
	}
	if p.Version < 1 {
		p.Version = 1
	}
	p.UpdatedAt = now.UTC()
	return p
}
