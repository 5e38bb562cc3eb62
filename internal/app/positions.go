package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hylla/perangkat/internal/domain"
)

// SaveOutcome reports which path SavePosition took.
type SaveOutcome string

// SaveOutcome values.
const (
	SaveOutcomeCreated SaveOutcome = "created"
	SaveOutcomeUpdated SaveOutcome = "updated"
	SaveOutcomeReused  SaveOutcome = "reused"
)

// SavePositionInput holds input values for the add/edit position flow.
// Version is the caller's last seen version for edits; zero skips the check.
type SavePositionInput struct {
	ID       string
	Version  int64
	Village  string
	Title    string
	Status   string
	Occupant domain.Occupant
	ForceNew bool
	Actor    string
}

// SavePosition edits an existing record, or enters a new occupant by reusing a stale or
// vacant slot before creating a new record.
func (s *Service) SavePosition(ctx context.Context, in SavePositionInput) (domain.Position, SaveOutcome, error) {
	now := s.clock()
	in.ID = strings.TrimSpace(in.ID)
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		actor = "operator"
	}
	occupant := s.rules.DeriveTenureEnd(in.Title, in.Occupant)

	var (
		saved   domain.Position
		outcome SaveOutcome
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.ID != "" {
			current, err := tx.GetPosition(ctx, in.ID)
			if err != nil {
				return err
			}
			if in.Version != 0 && in.Version != current.Version {
				return fmt.Errorf("position %q at version %d, caller has %d: %w", in.ID, current.Version, in.Version, ErrConflict)
			}
			if err := current.UpdateDetails(in.Village, in.Title, in.Status, occupant, now); err != nil {
				return err
			}
			if err := tx.UpdatePosition(ctx, current); err != nil {
				return err
			}
			current.Version++
			saved, outcome = current, SaveOutcomeUpdated
			return s.appendSaveEvent(ctx, tx, saved, domain.ChangeOperationUpdate, actor)
		}

		if !in.ForceNew && !occupant.IsEmpty() {
			slot, ok, err := s.findReusableSlot(ctx, tx, in.Village, in.Title, now)
			if err != nil {
				return err
			}
			if ok {
				slot.AssignOccupant(occupant, now)
				slot.Status = strings.TrimSpace(in.Status)
				if err := tx.UpdatePosition(ctx, slot); err != nil {
					return err
				}
				slot.Version++
				saved, outcome = slot, SaveOutcomeReused
				return s.appendSaveEvent(ctx, tx, saved, domain.ChangeOperationReuse, actor)
			}
		}

		created, err := domain.NewPosition(domain.PositionInput{
			ID:       s.idGen(),
			Village:  in.Village,
			Title:    in.Title,
			Status:   in.Status,
			Occupant: occupant,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.CreatePosition(ctx, created); err != nil {
			return err
		}
		saved, outcome = created, SaveOutcomeCreated
		return s.appendSaveEvent(ctx, tx, saved, domain.ChangeOperationCreate, actor)
	})
	if err != nil {
		return domain.Position{}, "", err
	}
	s.log.Info("position saved", "id", saved.ID, "outcome", outcome, "village", saved.Village, "title", saved.Title)
	return saved, outcome, nil
}

func (s *Service) appendSaveEvent(ctx context.Context, tx Tx, p domain.Position, op domain.ChangeOperation, actor string) error {
	return tx.AppendChangeEvent(ctx, domain.ChangeEvent{
		PositionID: p.ID,
		Village:    p.Village,
		Operation:  op,
		Actor:      actor,
		Metadata: map[string]string{
			"title":   p.Title,
			"state":   string(p.State()),
			"version": strconv.FormatInt(p.Version, 10),
		},
		OccurredAt: p.UpdatedAt,
	})
}

// ListPositions lists active positions, optionally for one village.
func (s *Service) ListPositions(ctx context.Context, village string) ([]domain.Position, error) {
	return s.repo.ListPositions(ctx, PositionFilter{Village: strings.TrimSpace(village)})
}

// GetPosition returns one active position.
func (s *Service) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	return s.repo.GetPosition(ctx, strings.TrimSpace(id))
}

// ListHistory lists archived positions, newest archival first.
func (s *Service) ListHistory(ctx context.Context, filter HistoryFilter) ([]domain.HistoryRecord, error) {
	filter.Village = strings.TrimSpace(filter.Village)
	return s.repo.ListHistory(ctx, filter)
}

// GetHistory returns one archived position.
func (s *Service) GetHistory(ctx context.Context, id string) (domain.HistoryRecord, error) {
	return s.repo.GetHistory(ctx, strings.TrimSpace(id))
}

// ListChangeEvents lists ledger entries for one position, newest first.
func (s *Service) ListChangeEvents(ctx context.Context, positionID string, limit int) ([]domain.ChangeEvent, error) {
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return nil, domain.ErrInvalidID
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListChangeEvents(ctx, positionID, limit)
}
