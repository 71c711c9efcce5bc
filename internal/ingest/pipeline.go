package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Run imports raw delimited text into sink and returns the aggregate result.
//
// The sink is probed before anything else; if the probe fails Run returns
// ErrSinkUnreachable and no result. Otherwise the run always drains:
// rejected rows and failed batches are reflected in the Result rather than
// returned as errors. Cancelling ctx stops the run between batch groups,
// and the partial Result is returned together with ctx's error.
func Run(ctx context.Context, raw string, sink Sink, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger

	if err := sink.Ping(ctx); err != nil {
		RunsTotal.WithLabelValues("fatal").Inc()
		logger.Error("sink connectivity probe failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSinkUnreachable, err)
	}

	rep := NewReporter(opts.OnProgress, logger)
	rep.Begin()

	var (
		tally    Tally
		rejected int
	)
	result := &Result{}
	finish := func(final Phase) *Result {
		result.Created = tally.Created
		result.Updated = tally.Updated
		result.Failed = tally.Failed
		result.Rejected = rejected
		result.Errors = tally.Errors
		result.Phase = final
		result.Metrics = rep.Finish(tally, rejected, final)
		return result
	}

	// Scanning: split rows and locate the header.
	rep.Enter(PhaseScanning)
	rows := ParseRows(raw, opts.Delimiter)
	headerIdx := FindHeader(rows)
	if headerIdx < 0 {
		rep.Scanned(0)
		return finish(PhaseComplete), nil
	}

	mapper := NewMapper(rows[headerIdx])
	if !mapper.HasRequired() {
		logger.Warn("header is missing a required column",
			"header", rows[headerIdx],
			"required", []string{FieldCallTime, FieldCallerID},
		)
	}

	data := make([][]string, 0, len(rows)-headerIdx-1)
	for _, row := range rows[headerIdx+1:] {
		if !isEmptyRow(row) {
			data = append(data, row)
		}
	}
	result.TotalRows = len(data)
	rep.Scanned(len(data))

	// Parsing: map chunks in parallel.
	rep.Enter(PhaseParsing)
	records, skipped, err := ParseChunks(ctx, mapper, Chunk(data, opts.WorkerCount), opts.WorkerCount, logger)
	if err != nil {
		return finish(PhaseCancelled), err
	}
	rejected = skipped
	result.Records = len(records)
	rep.Parsed(len(records), rejected)

	// Processing: batch groups against the sink.
	rep.Enter(PhaseProcessing)
	sched := NewScheduler(sink, opts, rep)
	tally, err = sched.Run(ctx, records)
	if err != nil {
		return finish(PhaseCancelled), err
	}

	return finish(PhaseComplete), nil
}

// RunReader reads r to EOF and runs the pipeline over its contents.
// Callers are expected to bound r; see core.ReadUpload.
func RunReader(ctx context.Context, r io.Reader, sink Sink, opts Options) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return Run(ctx, string(b), sink, opts)
}

// IsFatal reports whether err aborted a run before any batch was attempted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSinkUnreachable)
}
