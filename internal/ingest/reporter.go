package ingest

import (
	"log/slog"
	"runtime"
	"time"
)

// Reporter observes a run at its stage boundaries. It owns the phase clock,
// forwards ProgressEvents to the caller's callback and builds the final
// Metrics. A Reporter is used from the sequencing goroutine only.
type Reporter struct {
	onProgress func(ProgressEvent)
	logger     *slog.Logger

	now     func() time.Time
	heapNow func() uint64

	phase      Phase
	phaseStart time.Time
	found      int
	metrics    Metrics
}

// NewReporter returns a Reporter that forwards events to onProgress,
// which may be nil.
func NewReporter(onProgress func(ProgressEvent), logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		onProgress: onProgress,
		logger:     logger,
		now:        time.Now,
		heapNow:    heapAlloc,
		phase:      PhaseIdle,
	}
}

// heapAlloc samples the live heap. ReadMemStats stops the world briefly,
// so it is only called at run start and finish.
func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Phase returns the current run phase.
func (r *Reporter) Phase() Phase { return r.phase }

// Begin marks the start of a run.
func (r *Reporter) Begin() {
	r.metrics.StartedAt = r.now()
	r.metrics.MemStartBytes = r.heapNow()
	r.phase = PhaseIdle
	ActiveRuns.Inc()
}

// Enter closes the current phase and starts p.
func (r *Reporter) Enter(p Phase) {
	now := r.now()
	r.closePhase(now)

	r.phase = p
	r.phaseStart = now
	switch p {
	case PhaseScanning:
		r.metrics.ScanStartedAt = now
	case PhaseParsing:
		r.metrics.ParseStartedAt = now
	case PhaseProcessing:
		r.metrics.InsertStartedAt = now
	}
}

func (r *Reporter) closePhase(now time.Time) {
	d := now.Sub(r.phaseStart)
	switch r.phase {
	case PhaseScanning:
		r.metrics.ScanDuration = d
	case PhaseParsing:
		r.metrics.ParseEndedAt = now
		r.metrics.ParseDuration = d
	case PhaseProcessing:
		r.metrics.InsertEndedAt = now
		r.metrics.InsertDuration = d
	default:
		return
	}
	PhaseDuration.WithLabelValues(string(r.phase)).Observe(d.Seconds())
}

// Scanned reports the number of data rows found below the header.
func (r *Reporter) Scanned(rows int) {
	r.metrics.TotalRows = rows
	r.found = rows
	r.emit(ProgressEvent{RecordsFound: rows, Phase: PhaseScanning})
}

// Parsed reports the outcome of the parse stage.
func (r *Reporter) Parsed(records, rejected int) {
	r.found = records
	r.logger.Info("parse complete",
		"records", records,
		"rejected", rejected,
		"duration_ms", r.now().Sub(r.phaseStart).Milliseconds(),
	)
	r.emit(ProgressEvent{RecordsFound: records, Phase: PhaseParsing})
}

// GroupDone reports the aggregate after a batch group has been joined.
func (r *Reporter) GroupDone(t Tally) {
	r.emit(ProgressEvent{
		RecordsFound:    r.found,
		Created:         t.Created,
		Updated:         t.Updated,
		Failed:          t.Failed,
		Phase:           PhaseProcessing,
		PercentComplete: Percent(t.Processed(), r.found),
	})
}

// Finish closes the run in the given terminal phase, emits the final event
// and returns the frozen Metrics.
func (r *Reporter) Finish(t Tally, rejected int, final Phase) Metrics {
	now := r.now()
	r.closePhase(now)
	r.phase = final

	m := &r.metrics
	m.FinishedAt = now
	m.TotalDuration = now.Sub(m.StartedAt)
	m.MemEndBytes = r.heapNow()
	m.MemDeltaBytes = int64(m.MemEndBytes) - int64(m.MemStartBytes)
	m.Batches = t.Batches
	m.FailedBatches = t.FailedBatches
	if secs := m.TotalDuration.Seconds(); secs > 0 {
		m.RowsPerSecond = float64(m.TotalRows) / secs
	}

	ActiveRuns.Dec()
	observeOutcome(t, rejected)
	switch final {
	case PhaseComplete:
		RunsTotal.WithLabelValues("complete").Inc()
		LastRowsPerSecond.Set(m.RowsPerSecond)
	case PhaseCancelled:
		RunsTotal.WithLabelValues("cancelled").Inc()
	default:
		RunsTotal.WithLabelValues("failed").Inc()
	}

	r.logger.Info("import finished",
		"phase", string(final),
		"rows", m.TotalRows,
		"created", t.Created,
		"updated", t.Updated,
		"failed", t.Failed,
		"rejected", rejected,
		"batches", t.Batches,
		"failed_batches", t.FailedBatches,
		"scan_ms", m.ScanDuration.Milliseconds(),
		"parse_ms", m.ParseDuration.Milliseconds(),
		"insert_ms", m.InsertDuration.Milliseconds(),
		"total_ms", m.TotalDuration.Milliseconds(),
		"rows_per_sec", int64(m.RowsPerSecond),
		"mem_delta_bytes", m.MemDeltaBytes,
	)

	pct := Percent(t.Processed(), r.found)
	if final == PhaseComplete {
		pct = 100
	}
	r.emit(ProgressEvent{
		RecordsFound:    r.found,
		Created:         t.Created,
		Updated:         t.Updated,
		Failed:          t.Failed,
		Phase:           final,
		PercentComplete: pct,
	})

	return *m
}

func (r *Reporter) emit(ev ProgressEvent) {
	if r.onProgress != nil {
		r.onProgress(ev)
	}
}

// Percent returns processed/total as a whole percentage capped at 100.
// An empty total counts as done.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	p := processed * 100 / total
	if p > 100 {
		return 100
	}
	return p
}
