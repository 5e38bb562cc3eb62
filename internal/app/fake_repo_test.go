package app

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

var errBoom = errors.New("boom")

type fakeState struct {
	positions map[string]domain.Position
	history   map[string]domain.HistoryRecord
	events    []domain.ChangeEvent
}

func (s fakeState) clone() fakeState {
	return fakeState{
		positions: maps.Clone(s.positions),
		history:   maps.Clone(s.history),
		events:    slices.Clone(s.events),
	}
}

// fakeRepo stages every InTx call on a copy of its state and swaps it in on success.
type fakeRepo struct {
	state fakeState

	commits  int
	writes   int
	txCalls  int
	historyN int
	// failHistoryAt makes the nth CreateHistory call fail; zero disables it.
	failHistoryAt int
	failList      error
	failEvents    error
}

func newFakeRepo(positions ...domain.Position) *fakeRepo {
	repo := &fakeRepo{state: fakeState{
		positions: map[string]domain.Position{},
		history:   map[string]domain.HistoryRecord{},
	}}
	for _, p := range positions {
		repo.state.positions[p.ID] = p
	}
	return repo
}

func listPositions(positions map[string]domain.Position, filter PositionFilter) []domain.Position {
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if filter.Village != "" && p.Village != filter.Village {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Position) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func listSlot(positions map[string]domain.Position, village, title string) []domain.Position {
	out := make([]domain.Position, 0)
	for _, p := range positions {
		if p.Village == village && p.Title == title {
			out = append(out, p)
		}
	}
	// Reverse order so callers cannot rely on store ordering.
	slices.SortFunc(out, func(a, b domain.Position) int { return strings.Compare(b.ID, a.ID) })
	return out
}

func (f *fakeRepo) ListPositions(_ context.Context, filter PositionFilter) ([]domain.Position, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	return listPositions(f.state.positions, filter), nil
}

func (f *fakeRepo) ListPositionsBySlot(_ context.Context, village, title string) ([]domain.Position, error) {
	return listSlot(f.state.positions, village, title), nil
}

func (f *fakeRepo) GetPosition(_ context.Context, id string) (domain.Position, error) {
	p, ok := f.state.positions[id]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListHistory(_ context.Context, filter HistoryFilter) ([]domain.HistoryRecord, error) {
	out := make([]domain.HistoryRecord, 0, len(f.state.history))
	for _, h := range f.state.history {
		if filter.Village != "" && h.Position.Village != filter.Village {
			continue
		}
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b domain.HistoryRecord) int { return b.ArchivedAt.Compare(a.ArchivedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRepo) GetHistory(_ context.Context, id string) (domain.HistoryRecord, error) {
	h, ok := f.state.history[id]
	if !ok {
		return domain.HistoryRecord{}, ErrNotFound
	}
	return h, nil
}

func (f *fakeRepo) ListChangeEvents(_ context.Context, positionID string, limit int) ([]domain.ChangeEvent, error) {
	out := make([]domain.ChangeEvent, 0)
	for i := len(f.state.events) - 1; i >= 0; i-- {
		if f.state.events[i].PositionID == positionID {
			out = append(out, f.state.events[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	f.txCalls++
	tx := &fakeTx{repo: f, state: f.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	f.state = tx.state
	f.commits++
	f.writes += tx.writes
	return nil
}

type fakeTx struct {
	repo   *fakeRepo
	state  fakeState
	writes int
}

func (t *fakeTx) ListPositions(_ context.Context, filter PositionFilter) ([]domain.Position, error) {
	if t.repo.failList != nil {
		return nil, t.repo.failList
	}
	return listPositions(t.state.positions, filter), nil
}

func (t *fakeTx) ListPositionsBySlot(_ context.Context, village, title string) ([]domain.Position, error) {
	return listSlot(t.state.positions, village, title), nil
}

func (t *fakeTx) GetPosition(_ context.Context, id string) (domain.Position, error) {
	p, ok := t.state.positions[id]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	return p, nil
}

func (t *fakeTx) CreatePosition(_ context.Context, p domain.Position) error {
	if _, ok := t.state.positions[p.ID]; ok {
		return ErrConflict
	}
	t.state.positions[p.ID] = p
	t.writes++
	return nil
}

func (t *fakeTx) UpdatePosition(_ context.Context, p domain.Position) error {
	cur, ok := t.state.positions[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != p.Version {
		return ErrConflict
	}
	p.Version++
	t.state.positions[p.ID] = p
	t.writes++
	return nil
}

func (t *fakeTx) DeletePosition(_ context.Context, id string, version int64) error {
	cur, ok := t.state.positions[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != version {
		return ErrConflict
	}
	delete(t.state.positions, id)
	t.writes++
	return nil
}

func (t *fakeTx) GetHistory(_ context.Context, id string) (domain.HistoryRecord, error) {
	h, ok := t.state.history[id]
	if !ok {
		return domain.HistoryRecord{}, ErrNotFound
	}
	return h, nil
}

func (t *fakeTx) CreateHistory(_ context.Context, h domain.HistoryRecord) error {
	t.repo.historyN++
	if t.repo.failHistoryAt > 0 && t.repo.historyN == t.repo.failHistoryAt {
		return errBoom
	}
	if _, ok := t.state.history[h.ID()]; ok {
		return ErrConflict
	}
	t.state.history[h.ID()] = h
	t.writes++
	return nil
}

func (t *fakeTx) DeleteHistory(_ context.Context, id string) error {
	if _, ok := t.state.history[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.history, id)
	t.writes++
	return nil
}

func (t *fakeTx) AppendChangeEvent(_ context.Context, event domain.ChangeEvent) error {
	if t.repo.failEvents != nil {
		return t.repo.failEvents
	}
	event.ID = int64(len(t.state.events) + 1)
	t.state.events = append(t.state.events, event)
	t.writes++
	return nil
}

type fakeCheckpoints struct {
	values  map[string]time.Time
	saves   int
	failGet error
	failSet error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{values: map[string]time.Time{}}
}

func (f *fakeCheckpoints) GetCheckpoint(_ context.Context, key string) (time.Time, bool, error) {
	if f.failGet != nil {
		return time.Time{}, false, f.failGet
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCheckpoints) SaveCheckpoint(_ context.Context, key string, at time.Time) error {
	if f.failSet != nil {
		return f.failSet
	}
	f.values[key] = at
	f.saves++
	return nil
}

// sequenceIDs returns deterministic ids new-1, new-2, ...
func sequenceIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return "new-" + strconv.Itoa(n)
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
