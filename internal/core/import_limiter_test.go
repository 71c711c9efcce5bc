package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/calllog/internal/sink"
)

// =============================================================================
// ImportLimiter
// =============================================================================

func TestImportLimiter_Defaults(t *testing.T) {
	l := NewImportLimiter(0, 0)
	st := l.Status()
	assert.Equal(t, DefaultMaxConcurrentImports, st.MaxConcurrent)
	assert.Equal(t, DefaultMaxConcurrentImports, st.Available)
	assert.Nil(t, st.OldestStart)
	assert.Equal(t, DefaultMaxWaitTime, l.maxWait)
}

func TestImportLimiter_SlotsPerImport(t *testing.T) {
	l := NewImportLimiter(2, time.Second)
	t0 := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	clock := t0
	l.now = func() time.Time { return clock }

	require.NoError(t, l.Acquire(context.Background(), "imp-a"))
	clock = t0.Add(time.Minute)
	require.NoError(t, l.Acquire(context.Background(), "imp-b"))

	st := l.Status()
	assert.Equal(t, 2, st.Active)
	assert.Zero(t, st.Available)
	require.NotNil(t, st.OldestStart)
	assert.True(t, st.OldestStart.Equal(t0))

	l.Release("imp-a")
	st = l.Status()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Available)
	assert.True(t, st.OldestStart.Equal(t0.Add(time.Minute)))
}

func TestImportLimiter_ReleaseIsIdempotent(t *testing.T) {
	l := NewImportLimiter(1, time.Second)
	require.NoError(t, l.Acquire(context.Background(), "imp-a"))

	l.Release("imp-a")
	l.Release("imp-a")
	l.Release("never-acquired")

	st := l.Status()
	assert.Zero(t, st.Active)
	assert.Equal(t, 1, st.Available)

	// The single slot is still usable exactly once.
	require.NoError(t, l.Acquire(context.Background(), "imp-b"))
	err := l.Acquire(context.Background(), "imp-c")
	assert.ErrorIs(t, err, ErrTooManyImports)
}

func TestImportLimiter_BusyAfterMaxWait(t *testing.T) {
	l := NewImportLimiter(1, 30*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background(), "imp-a"))

	start := time.Now()
	err := l.Acquire(context.Background(), "imp-b")
	assert.ErrorIs(t, err, ErrTooManyImports)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Zero(t, l.Status().Queued)
}

func TestImportLimiter_QueuedImportGetsFreedSlot(t *testing.T) {
	l := NewImportLimiter(1, 5*time.Second)
	require.NoError(t, l.Acquire(context.Background(), "imp-a"))

	acquired := make(chan error, 1)
	go func() { acquired <- l.Acquire(context.Background(), "imp-b") }()

	require.Eventually(t, func() bool { return l.Status().Queued == 1 },
		time.Second, time.Millisecond)

	l.Release("imp-a")
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued import never got the slot")
	}

	st := l.Status()
	assert.Equal(t, 1, st.Active)
	assert.Zero(t, st.Queued)
}

func TestImportLimiter_CallerCancels(t *testing.T) {
	l := NewImportLimiter(1, time.Minute)
	require.NoError(t, l.Acquire(context.Background(), "imp-a"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx, "imp-b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTooManyImports))
	assert.Equal(t, 1, l.Status().Active)
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	l := NewImportLimiter(3, time.Second)
	require.NoError(t, l.WaitForDrain(context.Background()), "idle limiter drains at once")

	require.NoError(t, l.Acquire(context.Background(), "imp-a"))
	require.NoError(t, l.Acquire(context.Background(), "imp-b"))

	drained := make(chan error, 1)
	go func() { drained <- l.WaitForDrain(context.Background()) }()

	l.Release("imp-a")
	select {
	case <-drained:
		t.Fatal("drained with an import still running")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release("imp-b")
	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForDrain did not return after the last release")
	}

	// A second busy period gets a fresh idle signal.
	require.NoError(t, l.Acquire(context.Background(), "imp-c"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitForDrain(ctx), context.DeadlineExceeded)
}

// =============================================================================
// Slots held by imports
// =============================================================================

// panicReader blows up inside the import goroutine.
type panicReader struct{}

func (panicReader) Read([]byte) (int, error) { panic("reader exploded") }

func TestService_PanickingImportFreesSlot(t *testing.T) {
	s := newTestService(t, sink.NewMemory(), func(c *ServiceConfig) {
		c.MaxConcurrent = 1
		c.MaxWaitTime = 2 * time.Second
	})

	id, err := s.StartImport(context.Background(), ImportRequest{
		FileName: "broken.csv",
		Reader:   panicReader{},
	})
	require.NoError(t, err)

	res := waitResult(t, s, id)
	assert.Contains(t, res.Error, "internal error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForImports(ctx))

	// The only slot is free again.
	id = startImport(t, s, "calls.csv", []byte(callsCSV))
	assert.Equal(t, 3, waitResult(t, s, id).Result.Created)
}

func TestService_QueuedImportStartsWhenSlotFrees(t *testing.T) {
	s := newTestService(t, sink.NewMemory(), func(c *ServiceConfig) {
		c.Import.BatchSize = 1
		c.Import.MaxConcurrentBatches = 1
		c.Import.Aggressive = false
		c.Import.ConservativePause = time.Hour
		c.MaxConcurrent = 1
		c.MaxWaitTime = 5 * time.Second
	})

	first := startImport(t, s, "first.csv", []byte(callsCSV))
	waitCreated(t, s, first, 1)

	started := make(chan error, 1)
	go func() {
		_, err := s.StartImport(context.Background(), ImportRequest{
			FileName: "second.csv",
			Reader:   strings.NewReader(callsCSV),
		})
		started <- err
	}()

	require.Eventually(t, func() bool { return s.LimiterStatus().Queued == 1 },
		2*time.Second, time.Millisecond)

	require.NoError(t, s.CancelImport(first))
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("queued import was not admitted after cancel")
	}
	assert.Equal(t, 1, s.LimiterStatus().Active)
}

func TestService_WaitForImportsTimesOut(t *testing.T) {
	s := slowService(t, sink.NewMemory(), 1)
	id := startImport(t, s, "calls.csv", []byte(callsCSV))
	waitCreated(t, s, id, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitForImports(ctx), context.DeadlineExceeded)

	// Shutdown falls back to cancelling what is left.
	s.CancelAll()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, s.WaitForImports(ctx2))
	assert.Zero(t, s.LimiterStatus().Active)
}
