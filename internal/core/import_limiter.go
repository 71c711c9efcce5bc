package core

// import_limiter.go bounds how many imports run at once.
//
// Each import holds one slot, keyed by its ID, from upload decode to the
// last batch. StartImport queues for up to maxWait and then fails with
// ErrTooManyImports. Shutdown uses WaitForDrain to let running imports
// finish before the process exits.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrTooManyImports is returned when all import slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

var (
	importsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calllog",
		Subsystem: "imports",
		Name:      "running",
		Help:      "Imports currently holding a slot",
	})

	importsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calllog",
		Subsystem: "imports",
		Name:      "queued",
		Help:      "Import requests waiting for a slot",
	})

	importsBusy = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "calllog",
		Subsystem: "imports",
		Name:      "rejected_busy_total",
		Help:      "Import requests turned away because no slot freed up in time",
	})

	importSlotWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "calllog",
		Subsystem: "imports",
		Name:      "slot_wait_seconds",
		Help:      "Time an import waited for a slot",
		Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30},
	})
)

// ImportLimiter hands out a fixed number of import slots.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	now     func() time.Time

	mu      sync.Mutex
	running map[string]time.Time // import ID -> slot acquired at
	queued  int
	idle    chan struct{} // closed whenever running is empty
}

// NewImportLimiter allows at most maxConcurrent simultaneous imports.
// Non-positive arguments select the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	idle := make(chan struct{})
	close(idle)
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		now:     time.Now,
		running: make(map[string]time.Time),
		idle:    idle,
	}
}

// Acquire takes a slot for import id, queueing up to maxWait. A cancelled
// ctx returns its own error; running out of time returns ErrTooManyImports.
// The caller must Release(id) once the import ends.
func (l *ImportLimiter) Acquire(ctx context.Context, id string) error {
	l.mu.Lock()
	l.queued++
	l.mu.Unlock()
	importsQueued.Inc()

	start := l.now()
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	var err error
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrTooManyImports
		importsBusy.Inc()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queued--
	importsQueued.Dec()
	if err != nil {
		return err
	}

	if len(l.running) == 0 {
		l.idle = make(chan struct{})
	}
	l.running[id] = l.now()
	importsRunning.Inc()
	importSlotWait.Observe(l.now().Sub(start).Seconds())
	return nil
}

// Release frees the slot held by id. Releasing an id that holds no slot is
// a no-op, so a panic path and a normal path may both call it.
func (l *ImportLimiter) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.running[id]; !ok {
		return
	}
	delete(l.running, id)
	importsRunning.Dec()
	<-l.slots

	if len(l.running) == 0 {
		close(l.idle)
	}
}

// WaitForDrain blocks until no import holds a slot or ctx is done. Imports
// admitted while waiting extend the wait.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle, empty := l.idle, len(l.running) == 0
		l.mu.Unlock()
		if empty {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// LimiterStatus is a snapshot of the limiter.
type LimiterStatus struct {
	Active        int        `json:"active"`
	Queued        int        `json:"queued"`
	Available     int        `json:"available"`
	MaxConcurrent int        `json:"max_concurrent"`
	OldestStart   *time.Time `json:"oldest_start,omitempty"`
}

// Status reports slot usage for the limiter endpoint and shutdown logging.
func (l *ImportLimiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LimiterStatus{
		Active:        len(l.running),
		Queued:        l.queued,
		Available:     cap(l.slots) - len(l.running),
		MaxConcurrent: cap(l.slots),
	}
	for _, at := range l.running {
		if st.OldestStart == nil || at.Before(*st.OldestStart) {
			at := at
			st.OldestStart = &at
		}
	}
	return st
}
