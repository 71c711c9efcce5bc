package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrSinkUnreachable is returned by Run when the initial connectivity probe
// fails. No batches are attempted in that case.
var ErrSinkUnreachable = errors.New("sink unreachable")

// Defaults applied by Options.withDefaults.
const (
	DefaultBatchSize            = 1000
	DefaultWorkerCount          = 4
	DefaultMaxConcurrentBatches = 5
	DefaultAggressivePause      = time.Second
	DefaultConservativePause    = 5 * time.Second
)

// Record is a normalized call record keyed by canonical field name.
// It always carries a non-empty FieldCallTime and FieldCallerID.
type Record map[string]string

// CallTime returns the normalized RFC 3339 timestamp.
func (r Record) CallTime() string { return r[FieldCallTime] }

// CallerID returns the primary identifier.
func (r Record) CallerID() string { return r[FieldCallerID] }

// NaturalKey identifies the logical call for upsert purposes.
func (r Record) NaturalKey() string {
	return r[FieldCallTime] + "|" + r[FieldCallerID]
}

// Phase is a state of an ingestion run.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseParsing    Phase = "parsing"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// ProgressEvent is a point-in-time snapshot of a run.
// Created+Updated+Failed always equals the records processed so far.
type ProgressEvent struct {
	RecordsFound    int   `json:"records_found"`
	Created         int   `json:"created"`
	Updated         int   `json:"updated"`
	Failed          int   `json:"failed"`
	Phase           Phase `json:"phase"`
	PercentComplete int   `json:"percent_complete"`
}

// BatchOutcome is what a Sink reports for one UpsertBatch call.
type BatchOutcome struct {
	Created int
	Updated int
	Failed  int
	Errors  []string
}

// Sink is the persistence contract consumed by the pipeline.
//
// Implementations must be safe for concurrent use and idempotent on the
// natural key (call_time, caller_id): replaying a batch must not create
// additional rows.
type Sink interface {
	// Ping is the connectivity probe performed before any batch.
	Ping(ctx context.Context) error

	// UpsertBatch writes records and reports created/updated/failed counts.
	// A returned error means the whole batch failed.
	UpsertBatch(ctx context.Context, records []Record, aggressive bool) (BatchOutcome, error)
}

// Tally is the running aggregate the scheduler maintains.
type Tally struct {
	Created       int
	Updated       int
	Failed        int
	Batches       int
	FailedBatches int
	Errors        []string
}

// Processed returns the number of records that have an outcome.
func (t Tally) Processed() int { return t.Created + t.Updated + t.Failed }

// Metrics is the performance summary of a run.
type Metrics struct {
	StartedAt       time.Time `json:"started_at"`
	ScanStartedAt   time.Time `json:"scan_started_at"`
	ParseStartedAt  time.Time `json:"parse_started_at"`
	ParseEndedAt    time.Time `json:"parse_ended_at"`
	InsertStartedAt time.Time `json:"insert_started_at"`
	InsertEndedAt   time.Time `json:"insert_ended_at"`
	FinishedAt      time.Time `json:"finished_at"`

	ScanDuration   time.Duration `json:"scan_duration"`
	ParseDuration  time.Duration `json:"parse_duration"`
	InsertDuration time.Duration `json:"insert_duration"`
	TotalDuration  time.Duration `json:"total_duration"`

	TotalRows     int     `json:"total_rows"`
	RowsPerSecond float64 `json:"rows_per_second"`

	MemStartBytes uint64 `json:"mem_start_bytes"`
	MemEndBytes   uint64 `json:"mem_end_bytes"`
	MemDeltaBytes int64  `json:"mem_delta_bytes"`

	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
}

// Result is the aggregate outcome of a run.
type Result struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Failed    int      `json:"failed"`
	Rejected  int      `json:"rejected"`
	Records   int      `json:"records"`
	TotalRows int      `json:"total_rows"`
	Errors    []string `json:"errors,omitempty"`
	Phase     Phase    `json:"phase"`
	Metrics   Metrics  `json:"metrics"`
}

// Options tunes a run. Zero values select the defaults.
type Options struct {
	// BatchSize is the number of records per sink call (default: 1000)
	BatchSize int

	// WorkerCount bounds the parse goroutines (default: 4)
	WorkerCount int

	// MaxConcurrentBatches bounds in-flight sink calls (default: 5)
	MaxConcurrentBatches int

	// Aggressive selects the aggressive throttle policy.
	Aggressive bool

	// AggressivePause follows a group with a failed batch in aggressive mode (default: 1s)
	AggressivePause time.Duration

	// ConservativePause follows every group in conservative mode (default: 5s)
	ConservativePause time.Duration

	// Delimiter separates fields. Zero detects it from the header line.
	Delimiter rune

	// OnProgress receives events synchronously from the sequencing goroutine.
	OnProgress func(ProgressEvent)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = DefaultWorkerCount
	}
	if o.MaxConcurrentBatches <= 0 {
		o.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if o.AggressivePause <= 0 {
		o.AggressivePause = DefaultAggressivePause
	}
	if o.ConservativePause <= 0 {
		o.ConservativePause = DefaultConservativePause
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
