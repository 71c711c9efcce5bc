package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal counts records by outcome.
	// Labels: outcome (created, updated, failed, rejected)
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of import records by outcome",
		},
		[]string{"outcome"},
	)

	// BatchesTotal counts sink calls.
	// Labels: result (success, error)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of batch upserts",
		},
		[]string{"result"},
	)

	// BatchDuration tracks how long a single UpsertBatch call takes.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch upserts in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	// PhaseDuration tracks time spent in each run phase.
	// Labels: phase (scanning, parsing, processing)
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "phase_duration_seconds",
			Help:      "Duration of import run phases in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"phase"},
	)

	// RunsTotal counts finished runs.
	// Labels: result (complete, cancelled, failed, fatal)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of import runs by result",
		},
		[]string{"result"},
	)

	// ActiveRuns is the number of runs in progress.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "active_runs",
			Help:      "Number of import runs currently in progress",
		},
	)

	// LastRowsPerSecond is the throughput of the most recently completed run.
	LastRowsPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calllog",
			Subsystem: "ingest",
			Name:      "last_run_rows_per_second",
			Help:      "Rows per second achieved by the last completed run",
		},
	)
)

func observeBatch(d time.Duration, err error) {
	BatchDuration.Observe(d.Seconds())
	if err != nil {
		BatchesTotal.WithLabelValues("error").Inc()
		return
	}
	BatchesTotal.WithLabelValues("success").Inc()
}

func observeOutcome(t Tally, rejected int) {
	RecordsTotal.WithLabelValues("created").Add(float64(t.Created))
	RecordsTotal.WithLabelValues("updated").Add(float64(t.Updated))
	RecordsTotal.WithLabelValues("failed").Add(float64(t.Failed))
	RecordsTotal.WithLabelValues("rejected").Add(float64(rejected))
}
