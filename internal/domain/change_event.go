package domain

import "time"

// ChangeOperation describes a persisted ledger operation for a position.
type ChangeOperation string

// ChangeOperation values used by the position ledger.
const (
	ChangeOperationCreate  ChangeOperation = "create"
	ChangeOperationUpdate  ChangeOperation = "update"
	ChangeOperationReuse   ChangeOperation = "reuse"
	ChangeOperationArchive ChangeOperation = "archive"
	ChangeOperationRestore ChangeOperation = "restore"
	ChangeOperationImport  ChangeOperation = "import"
)

// ChangeEvent represents a single ledger entry for a position.
type ChangeEvent struct {
	ID         int64
	PositionID string
	Village    string
	Operation  ChangeOperation
	Actor      string
	Metadata   map[string]string
	OccurredAt time.Time
}
