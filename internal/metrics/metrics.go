package metrics

import (
	"time"

	"github.com/hylla/perangkat/internal/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the position lifecycle.
type Metrics struct {
	// Scan runs by outcome (completed, skipped, failed) and positions archived.
	ScanRuns    *prometheus.CounterVec
	Archived    prometheus.Counter
	ScanLatency prometheus.Histogram

	Restores       *prometheus.CounterVec
	RestoreLatency prometheus.Histogram

	// Import rows by route: created, updated, skipped, duplicate.
	ImportRows    *prometheus.CounterVec
	ImportRuns    *prometheus.CounterVec
	ImportLatency prometheus.Histogram

	SlotLookups *prometheus.CounterVec
}

var _ app.Observer = (*Metrics)(nil)

// New registers every lifecycle metric with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ScanRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_scan_runs_total",
			Help: "Tenure scan invocations by outcome",
		}, []string{"outcome"}),
		Archived: factory.NewCounter(prometheus.CounterOpts{
			Name: "perangkat_positions_archived_total",
			Help: "Positions moved to the history store after tenure end",
		}),
		ScanLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perangkat_scan_duration_seconds",
			Help:    "Duration of tenure scans that touched storage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		Restores: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_restores_total",
			Help: "Restore attempts by outcome",
		}, []string{"outcome"}),
		RestoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perangkat_restore_duration_seconds",
			Help:    "Duration of restore transactions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		ImportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_import_rows_total",
			Help: "Reconciled import rows by route",
		}, []string{"route"}),
		ImportRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_import_runs_total",
			Help: "Import reconciliation runs by outcome",
		}, []string{"outcome"}),
		ImportLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perangkat_import_duration_seconds",
			Help:    "Duration of import reconciliation runs",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SlotLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_slot_lookups_total",
			Help: "Reusable slot lookups by result",
		}, []string{"result"}),
	}
}

// ObserveScan records one scanner invocation.
func (m *Metrics) ObserveScan(processed int, skipped bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.ScanRuns.WithLabelValues("failed").Inc()
	case skipped:
		m.ScanRuns.WithLabelValues("skipped").Inc()
		return
	default:
		m.ScanRuns.WithLabelValues("completed").Inc()
	}
	m.Archived.Add(float64(processed))
	m.ScanLatency.Observe(elapsed.Seconds())
}

// ObserveRestore records one restore attempt.
func (m *Metrics) ObserveRestore(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(outcome(err)).Inc()
	m.RestoreLatency.Observe(elapsed.Seconds())
}

// ObserveImport records one reconciliation run. Row counters only move for committed runs.
func (m *Metrics) ObserveImport(summary app.ImportSummary, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ImportRuns.WithLabelValues(outcome(err)).Inc()
	m.ImportLatency.Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	m.ImportRows.WithLabelValues("created").Add(float64(summary.Created))
	m.ImportRows.WithLabelValues("updated").Add(float64(summary.Updated))
	m.ImportRows.WithLabelValues("skipped").Add(float64(summary.Skipped - len(summary.Duplicates)))
	m.ImportRows.WithLabelValues("duplicate").Add(float64(len(summary.Duplicates)))
}

// ObserveSlotLookup records whether a reusable slot was found.
func (m *Metrics) ObserveSlotLookup(found bool) {
	if m == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	m.SlotLookups.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
