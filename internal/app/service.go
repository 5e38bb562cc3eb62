package app

import (
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

// Defaults applied by NewService when ServiceConfig leaves a member zero.
const (
	DefaultScanThrottle     = 24 * time.Hour
	DefaultArchiveBatchSize = 400
	ScanCheckpointKey       = "tenure_scan"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Rules            domain.TenureRules
	ScanThrottle     time.Duration
	ArchiveBatchSize int
	ArchiveNote      string
	Logger           Logger
	Observer         Observer
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Logger receives structured key/value events from the service.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Observer receives operation outcomes for metrics.
type Observer interface {
	ObserveScan(processed int, skipped bool, err error, elapsed time.Duration)
	ObserveRestore(err error, elapsed time.Duration)
	ObserveImport(summary ImportSummary, err error, elapsed time.Duration)
	ObserveSlotLookup(found bool)
}

// Service owns the position lifecycle: scanning, archival, restore, and reconciliation.
type Service struct {
	repo         Repository
	checkpoints  CheckpointStore
	idGen        IDGenerator
	clock        Clock
	rules        domain.TenureRules
	scanThrottle time.Duration
	batchSize    int
	archiveNote  string
	log          Logger
	observer     Observer
}

// NewService constructs a new value for this package.
func NewService(repo Repository, checkpoints CheckpointStore, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.ScanThrottle <= 0 {
		cfg.ScanThrottle = DefaultScanThrottle
	}
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = DefaultArchiveBatchSize
	}
	note := strings.TrimSpace(cfg.ArchiveNote)
	if note == "" {
		note = domain.DefaultArchiveNote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Service{
		repo:         repo,
		checkpoints:  checkpoints,
		idGen:        idGen,
		clock:        clock,
		rules:        cfg.Rules.Normalized(),
		scanThrottle: cfg.ScanThrottle,
		batchSize:    cfg.ArchiveBatchSize,
		archiveNote:  note,
		log:          logger,
		observer:     observer,
	}
}

// Rules returns the tenure rules the service evaluates with.
func (s *Service) Rules() domain.TenureRules {
	return s.rules
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

type noopObserver struct{}

func (noopObserver) ObserveScan(int, bool, error, time.Duration) {}
func (noopObserver) ObserveRestore(error, time.Duration) {}
func (noopObserver) ObserveImport(ImportSummary, error, time.Duration) {}
func (noopObserver) ObserveSlotLookup(bool) {}
