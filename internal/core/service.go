package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/calllog/internal/ingest"
	"github.com/JonMunkholm/calllog/internal/logging"
	"github.com/JonMunkholm/calllog/internal/sink"
)

// Defaults for ServiceConfig zero values.
const (
	DefaultImportTimeout = 30 * time.Minute
	DefaultResultTTL     = 5 * time.Minute
)

// ServiceConfig tunes the import service.
type ServiceConfig struct {
	// Import holds the pipeline defaults applied to every import.
	// OnProgress and Logger are set per import and ignored here.
	Import ingest.Options

	MaxFileSize   int64
	MaxConcurrent int
	MaxWaitTime   time.Duration

	// Timeout bounds a single import end to end.
	Timeout time.Duration

	// ResultTTL is how long a finished import stays queryable.
	ResultTTL time.Duration
}

// Service runs imports in the background and tracks their progress.
type Service struct {
	store   sink.Store
	cfg     ServiceConfig
	limiter *ImportLimiter
	now     func() time.Time

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewService creates a Service writing to store.
func NewService(store sink.Store, cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	return &Service{
		store:   store,
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		now:     time.Now,
		imports: make(map[string]*activeImport),
	}
}

// Store returns the underlying call store.
func (s *Service) Store() sink.Store { return s.store }

// StartImport acquires an import slot and processes req in the background.
// It returns the import ID immediately; use SubscribeProgress or
// GetImportResult to follow it. ErrTooManyImports is returned if no slot
// frees up within the configured wait time.
//
// Once StartImport succeeds the service owns req.Reader and closes it when
// the import ends if it implements io.Closer. On error the caller keeps it.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if req.Reader == nil {
		return "", ErrNoFile
	}

	id := uuid.New().String()
	if err := s.limiter.Acquire(ctx, id); err != nil {
		return "", err
	}

	logger := logging.WithFields(ctx,
		"import_id", id,
		"file", req.FileName,
	)

	// Detached from the request: the import outlives the upload call.
	importCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)

	imp := &activeImport{
		id:          id,
		fileName:    req.FileName,
		requestedBy: GetIPAddressFromContext(ctx),
		startedAt:   s.now(),
		cancel:      cancel,
		counter:     NewCountingReader(req.Reader, req.Size),
		done:        make(chan struct{}),
	}
	imp.progress = ImportProgress{
		ImportID:      id,
		FileName:      req.FileName,
		ProgressEvent: ingest.ProgressEvent{Phase: ingest.PhaseIdle},
		BytesTotal:    req.Size,
	}

	s.mu.Lock()
	s.imports[id] = imp
	s.mu.Unlock()

	opts := s.importOptions(req, imp, logger)

	logger.Info("import started",
		"size", req.Size,
		"requested_by", imp.requestedBy,
		"user_agent", GetUserAgentFromContext(ctx),
		"aggressive", opts.Aggressive,
		"batch_size", opts.BatchSize,
	)

	go func() {
		defer s.limiter.Release(id)
		defer cancel()
		defer closeReader(req.Reader, logger)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in import",
					"panic", r,
					"stack", string(debug.Stack()),
				)
				s.finish(imp, FormatText, nil, fmt.Errorf("internal error: %v", r), logger)
			}
		}()
		s.runImport(importCtx, imp, opts, logger)
	}()

	return id, nil
}

func (s *Service) importOptions(req ImportRequest, imp *activeImport, logger *slog.Logger) ingest.Options {
	opts := s.cfg.Import
	if req.Aggressive != nil {
		opts.Aggressive = *req.Aggressive
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.Delimiter != 0 {
		opts.Delimiter = req.Delimiter
	}
	opts.Logger = logger
	opts.OnProgress = imp.update
	return opts
}

func (s *Service) runImport(ctx context.Context, imp *activeImport, opts ingest.Options, logger *slog.Logger) {
	imp.setPhase(ingest.PhaseScanning)

	text, format, err := ReadUpload(imp.counter, s.cfg.MaxFileSize)
	if err != nil {
		logger.Warn("upload rejected", "format", format, "error", err)
		s.finish(imp, format, nil, err, logger)
		return
	}
	logger.Debug("upload decoded", "format", format, "bytes", imp.counter.BytesRead(), "chars", len(text))

	res, err := ingest.Run(ctx, text, s.store, opts)
	if err != nil && imp.wasCancelled() {
		err = fmt.Errorf("import cancelled: %w", err)
	}
	s.finish(imp, format, res, err, logger)
}

// finish records the outcome, notifies listeners and marks the import done.
// It is safe to call more than once; only the first call counts.
func (s *Service) finish(imp *activeImport, format Format, res *ingest.Result, err error, logger *slog.Logger) {
	out := &ImportResult{
		ImportID: imp.id,
		FileName: imp.fileName,
		Format:   format,
		Duration: s.now().Sub(imp.startedAt),
	}
	if res != nil {
		out.Result = *res
	} else {
		out.Result.Phase = ingest.PhaseFailed
	}
	if err != nil {
		out.Error = err.Error()
		msg := MapError(err)
		out.UserError = &msg
	}

	if !imp.complete(out, s.now()) {
		return
	}

	switch {
	case err == nil:
		logger.Info("import complete",
			"created", out.Result.Created,
			"updated", out.Result.Updated,
			"failed", out.Result.Failed,
			"rejected", out.Result.Rejected,
			"duration_ms", out.Duration.Milliseconds(),
		)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logger.Warn("import stopped early",
			"phase", out.Result.Phase,
			"processed", out.Result.Created+out.Result.Updated+out.Result.Failed,
			"error", err,
		)
	default:
		logger.Error("import failed", "error", err)
	}
}

// SubscribeProgress returns a channel of progress snapshots. The current
// state is delivered first; the channel is closed once the import finishes.
// Slow subscribers miss intermediate snapshots, never the close.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	imp, err := s.get(importID)
	if err != nil {
		return nil, err
	}
	return imp.subscribe(), nil
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(importID string) (ImportProgress, error) {
	imp, err := s.get(importID)
	if err != nil {
		return ImportProgress{}, err
	}
	return imp.snapshot(), nil
}

// CancelImport stops an in-progress import between batch groups. Batches
// already written stay written.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.get(importID)
	if err != nil {
		return err
	}
	imp.markCancelled()
	imp.cancel()
	return nil
}

// CancelAll cancels every running import. Used at shutdown.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, imp := range s.imports {
		imp.markCancelled()
		imp.cancel()
	}
}

// GetImportResult waits for the import to finish and returns its result.
func (s *Service) GetImportResult(ctx context.Context, importID string) (*ImportResult, error) {
	imp, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.done:
		return imp.resultSnapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListImports returns tracked imports, newest first.
func (s *Service) ListImports() []ImportInfo {
	s.mu.RLock()
	infos := make([]ImportInfo, 0, len(s.imports))
	for _, imp := range s.imports {
		infos = append(infos, imp.info())
	}
	s.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ImportInfo) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ImportID, b.ImportID))
	})
	return infos
}

// ListCalls queries stored calls.
func (s *Service) ListCalls(ctx context.Context, q sink.CallQuery) (*sink.CallPage, error) {
	return s.store.ListCalls(ctx, q)
}

// LimiterStatus returns the import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until no imports are running or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// GetImport returns the progress of an import and, once it has finished,
// its result. It never blocks.
func (s *Service) GetImport(importID string) (*ImportStatus, error) {
	imp, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	st := &ImportStatus{Progress: imp.progress}
	if imp.result != nil {
		r := *imp.result
		st.Result = &r
	}
	return st, nil
}

func closeReader(r io.Reader, logger *slog.Logger) {
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("failed to close upload", "error", err)
	}
}

func (s *Service) get(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// activeImport is the mutable state of one import. The ingest reporter
// calls update from the pipeline's sequencing goroutine while HTTP handlers
// read snapshots concurrently.
type activeImport struct {
	id          string
	fileName    string
	requestedBy string
	startedAt   time.Time
	cancel      context.CancelFunc
	counter     *CountingReader
	done        chan struct{}

	mu         sync.Mutex
	progress   ImportProgress
	result     *ImportResult
	finishedAt time.Time
	cancelled  bool
	listeners  []chan ImportProgress
}

func (imp *activeImport) update(ev ingest.ProgressEvent) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	if imp.result != nil {
		return
	}
	imp.progress.ProgressEvent = ev
	imp.progress.BytesRead = imp.counter.BytesRead()
	imp.broadcast()
}

func (imp *activeImport) setPhase(phase ingest.Phase) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	imp.progress.Phase = phase
	imp.broadcast()
}

// broadcast sends the current progress to every listener without blocking.
// Callers hold imp.mu.
func (imp *activeImport) broadcast() {
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (imp *activeImport) subscribe() <-chan ImportProgress {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	ch := make(chan ImportProgress, 16)
	ch <- imp.progress
	if imp.result != nil {
		close(ch)
		return ch
	}
	imp.listeners = append(imp.listeners, ch)
	return ch
}

// complete stores the result and closes listeners. It reports false if
// the import had already completed.
func (imp *activeImport) complete(res *ImportResult, at time.Time) bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	if imp.result != nil {
		return false
	}

	imp.progress.Phase = res.Result.Phase
	imp.progress.BytesRead = imp.counter.BytesRead()
	imp.progress.Created = res.Result.Created
	imp.progress.Updated = res.Result.Updated
	imp.progress.Failed = res.Result.Failed
	if res.Result.Phase == ingest.PhaseComplete {
		imp.progress.PercentComplete = 100
	}
	imp.progress.Error = res.Error

	imp.result = res
	imp.finishedAt = at
	imp.broadcast()
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
	close(imp.done)
	return true
}

func (imp *activeImport) snapshot() ImportProgress {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress
}

func (imp *activeImport) resultSnapshot() *ImportResult {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	r := *imp.result
	return &r
}

func (imp *activeImport) markCancelled() {
	imp.mu.Lock()
	imp.cancelled = true
	imp.mu.Unlock()
}

func (imp *activeImport) wasCancelled() bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.cancelled
}

func (imp *activeImport) info() ImportInfo {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	info := ImportInfo{
		ImportID:    imp.id,
		FileName:    imp.fileName,
		Phase:       imp.progress.Phase,
		StartedAt:   imp.startedAt,
		RequestedBy: imp.requestedBy,
		Created:     imp.progress.Created,
		Updated:     imp.progress.Updated,
		Failed:      imp.progress.Failed,
	}
	if imp.result != nil {
		at := imp.finishedAt
		info.FinishedAt = &at
	}
	return info
}

// expired reports whether the import finished more than ttl before now.
func (imp *activeImport) expired(now time.Time, ttl time.Duration) bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result != nil && now.Sub(imp.finishedAt) > ttl
}
