package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hylla/perangkat/internal/app"
)

// DefaultInterval is how often the sweeper asks the scanner whether a scan is due.
const DefaultInterval = time.Hour

// Scanner is the throttled scan the sweeper drives.
type Scanner interface {
	RunIfDue(context.Context) (app.ScanResult, error)
}

// TenureSweeper periodically runs the tenure scan in one background loop.
// The scanner's own checkpoint decides whether a tick does any work.
type TenureSweeper struct {
	scanner  Scanner
	interval time.Duration
	log      app.Logger

	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// New constructs a sweeper. A non-positive interval uses DefaultInterval.
func New(scanner Scanner, interval time.Duration, logger app.Logger) *TenureSweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &TenureSweeper{
		scanner:   scanner,
		interval:  interval,
		log:       logger,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name for logging.
func (s *TenureSweeper) Name() string {
	return "tenure-sweeper"
}

// Start runs one tick immediately, then one per interval, until ctx ends or Stop is called.
func (s *TenureSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer close(s.stoppedCh)

	s.log.Info("tenure sweeper start", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("tenure sweeper stopping", "reason", ctx.Err())
			return nil
		case <-s.stopChan:
			s.log.Info("tenure sweeper stop requested")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the loop and waits for it to exit, bounded by ctx.
func (s *TenureSweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stopChan)
	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TenureSweeper) tick(ctx context.Context) {
	res, err := s.scanner.RunIfDue(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("tenure sweep failed", "err", err)
		}
		return
	}
	if res.Skipped {
		s.log.Debug("tenure sweep not due", "last_run_at", res.LastRunAt)
		return
	}
	s.log.Info("tenure sweep complete", "archived", res.Processed)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any) {}
func (discardLogger) Warn(string, ...any) {}
func (discardLogger) Error(string, ...any) {}
