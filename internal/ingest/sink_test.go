package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSink is an in-package Sink with natural-key upsert semantics and
// failure injection. It also tracks how many UpsertBatch calls overlap.
type fakeSink struct {
	mu      sync.Mutex
	rows    map[string]Record
	batches [][]Record

	pingErr  error
	failCall func(call int, batch []Record) error
	delay    time.Duration

	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: make(map[string]Record)}
}

func (s *fakeSink) Ping(context.Context) error { return s.pingErr }

func (s *fakeSink) UpsertBatch(_ context.Context, records []Record, _ bool) (BatchOutcome, error) {
	call := int(s.calls.Add(1))

	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxFlight.Load()
		if n <= m || s.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)

	if s.failCall != nil {
		if err := s.failCall(call, records); err != nil {
			return BatchOutcome{}, err
		}
	}

	var out BatchOutcome
	for _, r := range records {
		if _, ok := s.rows[r.NaturalKey()]; ok {
			out.Updated++
		} else {
			out.Created++
		}
		s.rows[r.NaturalKey()] = r
	}
	return out, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// makeRecords returns n distinct valid records.
func makeRecords(n int) []Record {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			FieldCallTime: FormatTimestamp(base.Add(time.Duration(i) * time.Minute)),
			FieldCallerID: "555-0100",
		}
	}
	return out
}
