package core

// scheduler.go runs background maintenance for the import service.
//
// The reaper forgets finished imports once their results have been
// queryable for ResultTTL, so the import map does not grow without bound
// on a long-running server. Running imports are never touched.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is how often the reaper runs when no interval is given.
const DefaultReapInterval = time.Minute

// StartReaper blocks, purging expired imports every interval until ctx is
// cancelled. It runs once immediately on start.
func (s *Service) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	slog.Info("import reaper started",
		"interval", interval,
		"result_ttl", s.cfg.ResultTTL,
	)

	s.reap(s.now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import reaper stopped")
			return
		case <-ticker.C:
			s.reap(s.now())
		}
	}
}

// reap removes imports that finished more than ResultTTL before now and
// returns how many were removed.
func (s *Service) reap(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, imp := range s.imports {
		if imp.expired(now, s.cfg.ResultTTL) {
			delete(s.imports, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("reaped finished imports", "removed", removed, "remaining", len(s.imports))
	}
	return removed
}
