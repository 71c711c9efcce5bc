package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler drives batches into a Sink a group at a time. A group holds up
// to MaxConcurrentBatches batches that run concurrently and are joined
// before the next group starts. Aggregation happens on the goroutine that
// called Run, after each join, so the Tally needs no locking.
type Scheduler struct {
	Sink                 Sink
	BatchSize            int
	MaxConcurrentBatches int
	Aggressive           bool
	AggressivePause      time.Duration
	ConservativePause    time.Duration
	Reporter             *Reporter
	Logger               *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler builds a Scheduler from run options.
func NewScheduler(sink Sink, opts Options, reporter *Reporter) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		Sink:                 sink,
		BatchSize:            opts.BatchSize,
		MaxConcurrentBatches: opts.MaxConcurrentBatches,
		Aggressive:           opts.Aggressive,
		AggressivePause:      opts.AggressivePause,
		ConservativePause:    opts.ConservativePause,
		Reporter:             reporter,
		Logger:               opts.Logger,
		sleep:                sleepContext,
	}
}

// batchResult is what one batch goroutine hands back to the sequencer.
type batchResult struct {
	index   int
	size    int
	outcome BatchOutcome
	err     error
}

// Run writes records and returns the aggregate. It only returns an error
// when ctx is done between groups; the Tally then covers the groups that
// ran.
func (s *Scheduler) Run(ctx context.Context, records []Record) (Tally, error) {
	var tally Tally

	batches := MakeBatches(records, s.BatchSize)
	group := s.MaxConcurrentBatches
	if group < 1 {
		group = DefaultMaxConcurrentBatches
	}

	for start := 0; start < len(batches); start += group {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		end := min(start+group, len(batches))
		results := s.runGroup(ctx, batches[start:end], start)

		groupFailed := false
		for _, res := range results {
			s.aggregate(&tally, res)
			if res.err != nil {
				groupFailed = true
			}
		}

		if s.Reporter != nil {
			s.Reporter.GroupDone(tally)
		}

		if end == len(batches) {
			break
		}
		if pause := s.pauseAfter(groupFailed); pause > 0 {
			s.Logger.Debug("throttling between batch groups",
				"pause", pause,
				"group_failed", groupFailed,
				"aggressive", s.Aggressive,
			)
			if err := s.sleep(ctx, pause); err != nil {
				return tally, err
			}
		}
	}

	return tally, nil
}

// pauseAfter applies the throttle policy to a finished group.
func (s *Scheduler) pauseAfter(groupFailed bool) time.Duration {
	if s.Aggressive {
		if groupFailed {
			return s.AggressivePause
		}
		return 0
	}
	return s.ConservativePause
}

// runGroup runs each batch in its own goroutine and waits for all of them.
// Results are returned in batch order.
func (s *Scheduler) runGroup(ctx context.Context, batches [][]Record, offset int) []batchResult {
	results := make([]batchResult, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.runBatch(ctx, offset+i, batch)
		}()
	}
	wg.Wait()

	return results
}

func (s *Scheduler) runBatch(ctx context.Context, index int, batch []Record) (res batchResult) {
	res = batchResult{index: index, size: len(batch)}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("panic in batch upsert", "batch", index, "panic", fmt.Sprint(r))
			res.outcome = BatchOutcome{}
			res.err = fmt.Errorf("panic: %v", r)
		}
		observeBatch(time.Since(start), res.err)
	}()

	res.outcome, res.err = s.Sink.UpsertBatch(ctx, batch, s.Aggressive)
	return res
}

// aggregate folds one batch result into t. A failed call fails every record
// of the batch and contributes exactly one error entry. Outcomes whose counts
// do not add up to the batch size are reconciled into Failed.
func (s *Scheduler) aggregate(t *Tally, res batchResult) {
	t.Batches++

	if res.err != nil {
		t.FailedBatches++
		t.Failed += res.size
		t.Errors = append(t.Errors, fmt.Sprintf("batch %d: %v", res.index+1, res.err))
		s.Logger.Warn("batch failed",
			"batch", res.index+1,
			"records", res.size,
			"error", res.err,
		)
		return
	}

	o := res.outcome
	created, updated, failed := max(o.Created, 0), max(o.Updated, 0), max(o.Failed, 0)
	if created+updated+failed != res.size {
		s.Logger.Warn("sink outcome does not match batch size",
			"batch", res.index+1,
			"records", res.size,
			"created", o.Created,
			"updated", o.Updated,
			"failed", o.Failed,
		)
		created = min(created, res.size)
		updated = min(updated, res.size-created)
		failed = res.size - created - updated
	}

	t.Created += created
	t.Updated += updated
	t.Failed += failed
	t.Errors = append(t.Errors, o.Errors...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
