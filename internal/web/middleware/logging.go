// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/calllog/internal/logging"
)

// Logger logs one structured line per request with status, size and timing.
// Entries carry chi's request ID via logging.FromContext.
//
// The wrapped writer keeps http.Flusher, so event streams still flush.
// Health and metrics probes are logged at debug level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logger := logging.FromContext(r.Context())
		log := logger.Info
		switch {
		case status >= http.StatusInternalServerError:
			log = logger.Error
		case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
			log = logger.Debug
		}

		log("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}
