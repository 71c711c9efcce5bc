package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ContextCheckInterval is how many rows a parse goroutine maps between
// cancellation checks.
var ContextCheckInterval = 100

// ParseChunks maps every row of every chunk with one goroutine per chunk,
// at most workers at a time, and joins them all before returning. Each
// chunk's rows keep their order and the chunk outputs are concatenated in
// chunk order. Rejected rows, including rows whose mapping panics, are
// skipped and counted. The only error is cancellation of ctx.
func ParseChunks(ctx context.Context, m *Mapper, chunks [][][]string, workers int, logger *slog.Logger) ([]Record, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}

	outputs := make([][]Record, len(chunks))
	rejected := make([]int, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for ci, chunk := range chunks {
		g.Go(func() error {
			out := make([]Record, 0, len(chunk))
			for ri, row := range chunk {
				if ri%ContextCheckInterval == 0 && gctx.Err() != nil {
					return gctx.Err()
				}

				rec, rej := safeMap(m, row, logger, ci, ri)
				if rej != Accepted {
					rejected[ci]++
					logger.Debug("row rejected", "chunk", ci, "row", ri, "reason", string(rej))
					continue
				}
				out = append(out, rec)
			}
			outputs[ci] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("parse stage: %w", err)
	}

	total, skipped := 0, 0
	for i := range outputs {
		total += len(outputs[i])
		skipped += rejected[i]
	}

	records := make([]Record, 0, total)
	for _, out := range outputs {
		records = append(records, out...)
	}
	return records, skipped, nil
}

// rejectPanic marks a row whose mapping panicked.
const rejectPanic Rejection = "mapping panic"

func safeMap(m *Mapper, row []string, logger *slog.Logger, chunk, index int) (rec Record, rej Rejection) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("row mapping panicked, skipping row",
				"chunk", chunk,
				"row", index,
				"panic", fmt.Sprint(r),
			)
			rec, rej = nil, rejectPanic
		}
	}()
	return m.Map(row)
}
