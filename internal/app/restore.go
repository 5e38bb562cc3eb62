package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// RestorePosition moves one history record back to the active store under the same id.
// The record is never visible in both stores, or in neither.
func (s *Service) RestorePosition(ctx context.Context, id string) (domain.Position, error) {
	started := time.Now()
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Position{}, domain.ErrInvalidID
	}

	now := s.clock()
	var restored domain.Position
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.GetHistory(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetPosition(ctx, id); err == nil {
			return fmt.Errorf("active position %q already exists: %w", id, ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		restored = record.Restore(now)
		restored.Version++
		if err := tx.CreatePosition(ctx, restored); err != nil {
			return fmt.Errorf("create position %q: %w", id, err)
		}
		if err := tx.DeleteHistory(ctx, id); err != nil {
			return fmt.Errorf("delete history %q: %w", id, err)
		}
		return tx.AppendChangeEvent(ctx, domain.ChangeEvent{
			PositionID: id,
			Village:    restored.Village,
			Operation:  domain.ChangeOperationRestore,
			Actor:      "operator",
			Metadata: map[string]string{
				"title":       restored.Title,
				"archived_at": record.ArchivedAt.UTC().Format(time.RFC3339),
				"version":     strconv.FormatInt(restored.Version, 10),
			},
			OccurredAt: now.UTC(),
		})
	})
	s.observer.ObserveRestore(err, time.Since(started))
	if err != nil {
		s.log.Warn("restore position failed", "id", id, "err", err)
		return domain.Position{}, err
	}
	s.log.Info("position restored", "id", id, "village", restored.Village, "title", restored.Title)
	return restored, nil
}
