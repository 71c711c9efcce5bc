package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{15, 10, 100},
		{1, 3, 33},
		{0, 0, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestReporter_Metrics(t *testing.T) {
	var events []ProgressEvent
	r := NewReporter(func(ev ProgressEvent) { events = append(events, ev) }, discardLogger())

	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	r.now = clock.now
	heap := []uint64{1000, 600}
	r.heapNow = func() uint64 {
		v := heap[0]
		heap = heap[1:]
		return v
	}

	r.Begin()                // t=1
	r.Enter(PhaseScanning)   // t=2
	r.Scanned(100)
	r.Enter(PhaseParsing)    // t=3
	r.Parsed(90, 10)         // t=4 (log duration)
	r.Enter(PhaseProcessing) // t=5
	r.GroupDone(Tally{Created: 40, Updated: 5, Failed: 0, Batches: 1})
	m := r.Finish(Tally{Created: 80, Updated: 5, Failed: 5, Batches: 2, FailedBatches: 1}, 10, PhaseComplete) // t=6

	assert.Equal(t, 100, m.TotalRows)
	assert.Equal(t, 5*time.Second, m.TotalDuration)
	assert.Equal(t, time.Second, m.ScanDuration)
	assert.Equal(t, 2*time.Second, m.ParseDuration)
	assert.Equal(t, time.Second, m.InsertDuration)
	assert.InDelta(t, 20.0, m.RowsPerSecond, 0.001)
	assert.Equal(t, int64(-400), m.MemDeltaBytes)
	assert.Equal(t, 2, m.Batches)
	assert.Equal(t, 1, m.FailedBatches)

	assert.Equal(t, PhaseComplete, r.Phase())
	assert.Len(t, events, 4)
	assert.Equal(t, 50, events[2].PercentComplete)
	assert.Equal(t, 90, events[2].RecordsFound)
	assert.Equal(t, ProgressEvent{
		RecordsFound:    90,
		Created:         80,
		Updated:         5,
		Failed:          5,
		Phase:           PhaseComplete,
		PercentComplete: 100,
	}, events[3])
}

func TestReporter_NilCallback(t *testing.T) {
	r := NewReporter(nil, discardLogger())
	r.Begin()
	r.Scanned(1)
	m := r.Finish(Tally{}, 0, PhaseComplete)
	assert.Equal(t, 1, m.TotalRows)
}
