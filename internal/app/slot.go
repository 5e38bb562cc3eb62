package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// slotLister lists active records by exact (village, title).
type slotLister interface {
	ListPositionsBySlot(context.Context, string, string) ([]domain.Position, error)
}

// FindReusableSlot returns an active record for (village, title) that is vacant or past tenure end.
// Candidates are tried in ascending id order.
func (s *Service) FindReusableSlot(ctx context.Context, village, title string) (domain.Position, bool, error) {
	p, ok, err := s.findReusableSlot(ctx, s.repo, village, title, s.clock())
	if err == nil {
		s.observer.ObserveSlotLookup(ok)
	}
	return p, ok, err
}

func (s *Service) findReusableSlot(ctx context.Context, lister slotLister, village, title string, now time.Time) (domain.Position, bool, error) {
	village = strings.TrimSpace(village)
	title = strings.TrimSpace(title)
	if village == "" {
		return domain.Position{}, false, domain.ErrInvalidVillage
	}
	if title == "" {
		return domain.Position{}, false, domain.ErrInvalidTitle
	}
	matches, err := lister.ListPositionsBySlot(ctx, village, title)
	if err != nil {
		return domain.Position{}, false, err
	}
	slices.SortFunc(matches, func(a, b domain.Position) int {
		return strings.Compare(a.ID, b.ID)
	})
	for _, p := range matches {
		if p.State() == domain.StateVacant || s.rules.Eligible(p, now) {
			return p, true, nil
		}
	}
	return domain.Position{}, false, nil
}
