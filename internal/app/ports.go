package app

import (
	"context"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// PositionFilter narrows active-position listings. Empty members match everything.
type PositionFilter struct {
	Village string
}

// HistoryFilter narrows history listings. Limit <= 0 means no limit.
type HistoryFilter struct {
	Village string
	Limit   int
}

// PositionReader reads the active-records store.
type PositionReader interface {
	ListPositions(context.Context, PositionFilter) ([]domain.Position, error)
	ListPositionsBySlot(context.Context, string, string) ([]domain.Position, error)
	GetPosition(context.Context, string) (domain.Position, error)
}

// Tx is one atomic unit of work against the active and history stores.
// UpdatePosition and DeletePosition compare the stored version and return ErrConflict on mismatch.
type Tx interface {
	PositionReader
	CreatePosition(context.Context, domain.Position) error
	UpdatePosition(context.Context, domain.Position) error
	DeletePosition(context.Context, string, int64) error

	GetHistory(context.Context, string) (domain.HistoryRecord, error)
	CreateHistory(context.Context, domain.HistoryRecord) error
	DeleteHistory(context.Context, string) error

	AppendChangeEvent(context.Context, domain.ChangeEvent) error
}

// Repository represents the persistence port used by Service.
type Repository interface {
	PositionReader
	ListHistory(context.Context, HistoryFilter) ([]domain.HistoryRecord, error)
	GetHistory(context.Context, string) (domain.HistoryRecord, error)
	ListChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
	// InTx runs fn in one write transaction and commits when fn returns nil.
	InTx(context.Context, func(context.Context, Tx) error) error
}

// CheckpointStore is a small key/value store for job timestamps.
type CheckpointStore interface {
	GetCheckpoint(context.Context, string) (time.Time, bool, error)
	SaveCheckpoint(context.Context, string, time.Time) error
}
