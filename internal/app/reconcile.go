package app

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// SkipReason classifies why an import row was not written.
type SkipReason string

// SkipReason values reported in ImportSummary.Skips.
const (
	SkipReasonInvalid    SkipReason = "invalid"
	SkipReasonOutOfScope SkipReason = "out_of_scope"
	SkipReasonDuplicate  SkipReason = "duplicate"
)

// ImportActor identifies who runs an import. An empty VillageScope allows every village.
type ImportActor struct {
	Name         string
	VillageScope string
}

// ImportRequest holds input values for one reconciliation run.
type ImportRequest struct {
	Rows  []domain.ImportRow
	Actor ImportActor
}

// Duplicate reports a row whose (name, village) already exists without a national-id match.
type Duplicate struct {
	Line       int
	Name       string
	Village    string
	ExistingID string
}

// RowSkip records one skipped row.
type RowSkip struct {
	Line   int
	Reason SkipReason
	Detail string
}

// ImportSummary counts what a reconciliation run did.
type ImportSummary struct {
	Created    int
	Updated    int
	Skipped    int
	Duplicates []Duplicate
	Skips      []RowSkip
}

// Reconcile routes every row to update, create, or skip inside one write transaction.
// Any store failure aborts the whole run and no summary is returned.
func (s *Service) Reconcile(ctx context.Context, req ImportRequest) (ImportSummary, error) {
	started := time.Now()
	now := s.clock()
	actor := strings.TrimSpace(req.Actor.Name)
	if actor == "" {
		actor = "import"
	}
	scope := strings.TrimSpace(req.Actor.VillageScope)
	s.log.Info("import reconcile start", "rows", len(req.Rows), "actor", actor, "village_scope", scope)

	var summary ImportSummary
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		summary = ImportSummary{}
		active, err := tx.ListPositions(ctx, PositionFilter{})
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		run := &reconcileRun{
			svc:     s,
			tx:      tx,
			set:     newActiveSet(active),
			actor:   actor,
			scope:   scope,
			now:     now,
			summary: &summary,
		}
		for i, row := range req.Rows {
			if row.Line == 0 {
				row.Line = i + 1
			}
			if err := run.apply(ctx, row); err != nil {
				return fmt.Errorf("import row %d: %w", row.Line, err)
			}
		}
		return nil
	})
	s.observer.ObserveImport(summary, err, time.Since(started))
	if err != nil {
		s.log.Error("import reconcile failed", "rows", len(req.Rows), "err", err)
		return ImportSummary{}, err
	}
	s.log.Info(
		"import reconcile complete",
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"duplicates", len(summary.Duplicates),
	)
	return summary, nil
}

// reconcileRun carries the per-transaction state of one import.
type reconcileRun struct {
	svc     *Service
	tx      Tx
	set     *activeSet
	actor   string
	scope   string
	now     time.Time
	summary *ImportSummary
}

func (r *reconcileRun) apply(ctx context.Context, row domain.ImportRow) error {
	row = row.Normalized()
	if err := row.Validate(); err != nil {
		r.skip(row.Line, SkipReasonInvalid, err.Error())
		return nil
	}
	if r.scope != "" && !domain.SameText(row.Village, r.scope) {
		r.skip(row.Line, SkipReasonOutOfScope, "village "+row.Village)
		return nil
	}
	occupant := r.svc.rules.DeriveTenureEnd(row.Title, row.Occupant)

	if row.Occupant.NationalID != "" {
		if match, ok := r.set.byNationalID(row.Occupant.NationalID); ok {
			if r.scope != "" && !domain.SameText(match.Village, r.scope) {
				r.skip(row.Line, SkipReasonOutOfScope, "national id held in village "+match.Village)
				return nil
			}
			// The matched record keeps its own slot; only occupant fields change.
			match.MergeOccupant(row.Occupant, r.now)
			match.Occupant = r.svc.rules.DeriveTenureEnd(match.Title, match.Occupant)
			if err := r.update(ctx, match, domain.ChangeOperationUpdate, row.Line, "national_id"); err != nil {
				return err
			}
			r.summary.Updated++
			return nil
		}
	}

	if existing, ok := r.set.byNameVillage(row.Occupant.FullName, row.Village); ok {
		r.summary.Duplicates = append(r.summary.Duplicates, Duplicate{
			Line:       row.Line,
			Name:       row.Occupant.FullName,
			Village:    row.Village,
			ExistingID: existing.ID,
		})
		r.skip(row.Line, SkipReasonDuplicate, "existing position "+existing.ID)
		return nil
	}

	slot, ok, err := r.svc.findReusableSlot(ctx, r.set, row.Village, row.Title, r.now)
	if err != nil {
		return err
	}
	if ok {
		slot.AssignOccupant(occupant, r.now)
		if err := r.update(ctx, slot, domain.ChangeOperationReuse, row.Line, "slot"); err != nil {
			return err
		}
		r.summary.Updated++
		return nil
	}

	created, err := domain.NewPosition(domain.PositionInput{
		ID:       r.svc.idGen(),
		Village:  row.Village,
		Title:    row.Title,
		Occupant: occupant,
	}, r.now)
	if err != nil {
		return err
	}
	if err := r.tx.CreatePosition(ctx, created); err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	if err := r.event(ctx, created, domain.ChangeOperationCreate, row.Line, "new"); err != nil {
		return err
	}
	r.set.put(created)
	r.summary.Created++
	return nil
}

// update writes p with a version check and refreshes the in-transaction view.
func (r *reconcileRun) update(ctx context.Context, p domain.Position, op domain.ChangeOperation, line int, match string) error {
	if err := r.tx.UpdatePosition(ctx, p); err != nil {
		return fmt.Errorf("update position %q: %w", p.ID, err)
	}
	p.Version++
	if err := r.event(ctx, p, op, line, match); err != nil {
		return err
	}
	r.set.put(p)
	return nil
}

func (r *reconcileRun) event(ctx context.Context, p domain.Position, op domain.ChangeOperation, line int, match string) error {
	return r.tx.AppendChangeEvent(ctx, domain.ChangeEvent{
		PositionID: p.ID,
		Village:    p.Village,
		Operation:  op,
		Actor:      r.actor,
		Metadata: map[string]string{
			"source": string(domain.ChangeOperationImport),
			"line":   strconv.Itoa(line),
			"match":  match,
			"title":  p.Title,
		},
		OccurredAt: r.now.UTC(),
	})
}

func (r *reconcileRun) skip(line int, reason SkipReason, detail string) {
	r.summary.Skipped++
	r.summary.Skips = append(r.summary.Skips, RowSkip{Line: line, Reason: reason, Detail: detail})
}

// activeSet is the in-transaction view of active positions, patched as rows apply.
// ids stays sorted so every lookup is deterministic.
type activeSet struct {
	byID map[string]domain.Position
	ids  []string
}

func newActiveSet(positions []domain.Position) *activeSet {
	set := &activeSet{byID: make(map[string]domain.Position, len(positions))}
	for _, p := range positions {
		set.put(p)
	}
	return set
}

func (a *activeSet) put(p domain.Position) {
	if _, ok := a.byID[p.ID]; !ok {
		idx, _ := slices.BinarySearch(a.ids, p.ID)
		a.ids = slices.Insert(a.ids, idx, p.ID)
	}
	a.byID[p.ID] = p
}

func (a *activeSet) sorted() []domain.Position {
	out := make([]domain.Position, 0, len(a.ids))
	for _, id := range a.ids {
		out = append(out, a.byID[id])
	}
	return out
}

func (a *activeSet) byNationalID(nationalID string) (domain.Position, bool) {
	for _, p := range a.sorted() {
		if p.Occupant.NationalID != "" && p.Occupant.NationalID == nationalID {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (a *activeSet) byNameVillage(name, village string) (domain.Position, bool) {
	name = domain.FoldKey(name)
	village = domain.FoldKey(village)
	if name == "" {
		return domain.Position{}, false
	}
	for _, p := range a.sorted() {
		if domain.FoldKey(p.Occupant.FullName) == name && domain.FoldKey(p.Village) == village {
			return p, true
		}
	}
	return domain.Position{}, false
}

// ListPositionsBySlot lets SlotResolver run against the in-transaction view.
func (a *activeSet) ListPositionsBySlot(_ context.Context, village, title string) ([]domain.Position, error) {
	out := make([]domain.Position, 0)
	for _, p := range a.sorted() {
		if p.Village == village && p.Title == title {
			out = append(out, p)
		}
	}
	return out, nil
}
