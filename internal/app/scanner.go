package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// ScanResult reports one scanner invocation.
type ScanResult struct {
	Processed int
	Skipped   bool
	LastRunAt time.Time
}

// RunIfDue archives every position whose tenure ended, at most once per throttle window.
func (s *Service) RunIfDue(ctx context.Context) (ScanResult, error) {
	now := s.clock()
	last, ok, err := s.checkpoints.GetCheckpoint(ctx, ScanCheckpointKey)
	if err != nil {
		s.observer.ObserveScan(0, false, err, 0)
		return ScanResult{}, fmt.Errorf("read scan checkpoint: %w", err)
	}
	if ok && now.Sub(last) < s.scanThrottle {
		s.log.Debug("tenure scan throttled", "last_run_at", last, "throttle", s.scanThrottle)
		s.observer.ObserveScan(0, true, nil, 0)
		return ScanResult{Skipped: true, LastRunAt: last}, nil
	}
	return s.scan(ctx, now)
}

// RunScan runs the tenure scan regardless of the throttle window.
func (s *Service) RunScan(ctx context.Context) (ScanResult, error) {
	return s.scan(ctx, s.clock())
}

func (s *Service) scan(ctx context.Context, now time.Time) (ScanResult, error) {
	started := time.Now()
	s.log.Info("tenure scan start", "now", now)

	positions, err := s.repo.ListPositions(ctx, PositionFilter{})
	if err != nil {
		s.observer.ObserveScan(0, false, err, time.Since(started))
		return ScanResult{}, fmt.Errorf("list positions: %w", err)
	}
	eligible := make([]domain.Position, 0)
	for _, p := range positions {
		if s.rules.Eligible(p, now) {
			eligible = append(eligible, p)
		}
	}

	processed, err := s.archivePositions(ctx, eligible, now)
	if err != nil {
		s.log.Error("tenure scan failed", "archived", processed, "eligible", len(eligible), "err", err)
		s.observer.ObserveScan(processed, false, err, time.Since(started))
		return ScanResult{Processed: processed}, err
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, ScanCheckpointKey, now); err != nil {
		s.observer.ObserveScan(processed, false, err, time.Since(started))
		return ScanResult{Processed: processed}, fmt.Errorf("save scan checkpoint: %w", err)
	}

	s.log.Info("tenure scan complete", "scanned", len(positions), "archived", processed)
	s.observer.ObserveScan(processed, false, nil, time.Since(started))
	return ScanResult{Processed: processed, LastRunAt: now}, nil
}

// archivePositions moves eligible records to the history store in sequential chunks.
// Each chunk commits atomically. The returned count covers committed chunks only.
func (s *Service) archivePositions(ctx context.Context, positions []domain.Position, now time.Time) (int, error) {
	archived := 0
	for start := 0; start < len(positions); start += s.batchSize {
		end := min(start+s.batchSize, len(positions))
		chunk := positions[start:end]
		n := 0
		err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
			n = 0
			for _, candidate := range chunk {
				ok, err := s.archiveOne(ctx, tx, candidate.ID, now)
				if err != nil {
					return err
				}
				if ok {
					n++
				}
			}
			return nil
		})
		if err != nil {
			return archived, fmt.Errorf("archive positions %d-%d: %w", start, end-1, err)
		}
		archived += n
	}
	return archived, nil
}

// archiveOne re-reads a candidate inside tx so a concurrent edit or archival is not overwritten.
func (s *Service) archiveOne(ctx context.Context, tx Tx, id string, now time.Time) (bool, error) {
	current, err := tx.GetPosition(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.rules.Eligible(current, now) {
		return false, nil
	}

	record := domain.NewHistoryRecord(current, s.archiveNote, now)
	if err := tx.CreateHistory(ctx, record); err != nil {
		return false, fmt.Errorf("create history %q: %w", id, err)
	}
	if err := tx.DeletePosition(ctx, id, current.Version); err != nil {
		return false, fmt.Errorf("delete position %q: %w", id, err)
	}
	end, _ := s.rules.TenureEnd(current.Title, current.Occupant)
	if err := tx.AppendChangeEvent(ctx, domain.ChangeEvent{
		PositionID: id,
		Village:    current.Village,
		Operation:  domain.ChangeOperationArchive,
		Actor:      "scanner",
		Metadata: map[string]string{
			"title":           current.Title,
			"full_name":       current.Occupant.FullName,
			"tenure_end":      domain.FormatDate(dateOrNil(end)),
			"version":         strconv.FormatInt(current.Version, 10),
			"head_of_village": strconv.FormatBool(s.rules.IsHeadOfVillage(current.Title)),
		},
		OccurredAt: now.UTC(),
	}); err != nil {
		return false, fmt.Errorf("append archive event %q: %w", id, err)
	}
	return true, nil
}

func dateOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
