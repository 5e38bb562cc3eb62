// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a write that lost against the current stored state.
var ErrConflict = errors.New("conflict")

// ErrUnavailable reports a store that stayed busy past the retry budget.
var ErrUnavailable = errors.New("service unavailable")

// ScanRequest captures one scanner trigger. Force bypasses the throttle window.
type ScanRequest struct {
	Force bool `json:"force"`
}

// ScanResponse reports one scanner invocation.
type ScanResponse struct {
	Processed int        `json:"processed"`
	Skipped   bool       `json:"skipped"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// Occupant is the transport shape of the person fields of a position.
type Occupant struct {
	FullName         string `json:"full_name,omitempty"`
	NationalID       string `json:"national_id,omitempty"`
	BirthDate        string `json:"birth_date,omitempty"`
	DecreeNumber     string `json:"decree_number,omitempty"`
	DecreeDate       string `json:"decree_date,omitempty"`
	InaugurationDate string `json:"inauguration_date,omitempty"`
	TenureEndDate    string `json:"tenure_end_date,omitempty"`
}

// Position is one active position as returned to HTTP and MCP callers.
type Position struct {
	ID        string    `json:"id"`
	Village   string    `json:"village"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Status    string    `json:"status,omitempty"`
	Version   int64     `json:"version"`
	Occupant  Occupant  `json:"occupant"`
	TenureEnd string    `json:"tenure_end,omitempty"`
	Eligible  bool      `json:"eligible"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryRecord is one archived position.
type HistoryRecord struct {
	Position   Position  `json:"position"`
	ArchivedAt time.Time `json:"archived_at"`
	Note       string    `json:"note,omitempty"`
}

// ListPositionsRequest filters active positions.
type ListPositionsRequest struct {
	Village string
}

// ListHistoryRequest filters archived positions.
type ListHistoryRequest struct {
	Village string
	Limit   int
}

// RestoreRequest names one history record to restore.
type RestoreRequest struct {
	ID string `json:"id"`
}

// ImportRow is one externally sourced row in an import request.
type ImportRow struct {
	Line     int      `json:"line,omitempty"`
	Village  string   `json:"village"`
	Title    string   `json:"title"`
	Occupant Occupant `json:"occupant"`
}

// ImportRequest captures one reconciliation run.
type ImportRequest struct {
	Rows         []ImportRow `json:"rows"`
	Actor        string      `json:"actor,omitempty"`
	VillageScope string      `json:"village_scope,omitempty"`
}

// ImportDuplicate reports a row that matched an existing (name, village) without a national-id match.
type ImportDuplicate struct {
	Line       int    `json:"line"`
	Name       string `json:"name"`
	Village    string `json:"village"`
	ExistingID string `json:"existing_id"`
}

// ImportSkip reports one row that was not written.
type ImportSkip struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ImportSummary counts what one reconciliation run did.
type ImportSummary struct {
	Created    int               `json:"created"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Duplicates []ImportDuplicate `json:"duplicates"`
	Skips      []ImportSkip      `json:"skips"`
}

// SlotRequest names one (village, title) slot.
type SlotRequest struct {
	Village string
	Title   string
}

// SlotResponse reports a reusable slot lookup.
type SlotResponse struct {
	Found    bool      `json:"found"`
	Position *Position `json:"position,omitempty"`
}

// PersonnelService is the operation surface shared by HTTP and MCP transports.
type PersonnelService interface {
	RunScan(context.Context, ScanRequest) (ScanResponse, error)
	ListPositions(context.Context, ListPositionsRequest) ([]Position, error)
	ListHistory(context.Context, ListHistoryRequest) ([]HistoryRecord, error)
	RestorePosition(context.Context, RestoreRequest) (Position, error)
	ReconcileImport(context.Context, ImportRequest) (ImportSummary, error)
	FindReusableSlot(context.Context, SlotRequest) (SlotResponse, error)
}

// Pinger reports storage readiness.
type Pinger interface {
	Ping(context.Context) error
}

// ToImportRows converts transport rows into domain rows. A malformed date stays on its row
// as Err so the reconciler skips only that row.
func ToImportRows(rows []ImportRow) []domain.ImportRow {
	out := make([]domain.ImportRow, 0, len(rows))
	for i, row := range rows {
		line := row.Line
		if line == 0 {
			line = i + 1
		}
		converted := domain.ImportRow{Line: line, Village: row.Village, Title: row.Title}
		occupant, err := toDomainOccupant(row.Occupant)
		if err != nil {
			converted.Occupant = domain.Occupant{FullName: row.Occupant.FullName, NationalID: row.Occupant.NationalID}
			converted.Err = lineError(line, err)
		} else {
			converted.Occupant = occupant
		}
		out = append(out, converted)
	}
	return out
}
