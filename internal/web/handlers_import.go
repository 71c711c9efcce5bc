package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/calllog/internal/core"
	"github.com/JonMunkholm/calllog/internal/logging"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// multipartOverhead allows for boundaries and form fields on top of the file.
const multipartOverhead = 1 << 20

// handleStartImport accepts a multipart upload and starts an import.
// The upload is spooled to a temp file because the import outlives the
// request; the service removes it when the import ends.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, s.cfg.Import.MaxFileSize), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("%w: invalid form: %v", errBadRequest, err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	req, err := parseImportOptions(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	upload, size, err := spoolUpload(file)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	req.FileName = header.Filename
	req.Reader = upload
	req.Size = size

	importID, err := s.service.StartImport(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		upload.Close()
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
		}
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// parseImportOptions reads the optional per-import overrides from the form.
func parseImportOptions(r *http.Request) (core.ImportRequest, error) {
	var req core.ImportRequest

	if v := r.FormValue("aggressive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("%w: aggressive must be true or false", errBadRequest)
		}
		req.Aggressive = &b
	}

	if v := r.FormValue("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, fmt.Errorf("%w: batch_size must be a positive integer", errBadRequest)
		}
		req.BatchSize = n
	}

	if v := r.FormValue("delimiter"); v != "" {
		d, err := parseDelimiter(v)
		if err != nil {
			return req, err
		}
		req.Delimiter = d
	}

	return req, nil
}

// parseDelimiter accepts a single character or one of the names tab,
// comma, semicolon and pipe.
func parseDelimiter(v string) (rune, error) {
	switch strings.ToLower(v) {
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	runes := []rune(v)
	if len(runes) != 1 {
		return 0, fmt.Errorf("%w: delimiter must be a single character", errBadRequest)
	}
	return runes[0], nil
}

// tempUpload is a spooled upload that deletes itself on Close.
type tempUpload struct {
	*os.File
}

func (t *tempUpload) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func spoolUpload(src io.Reader) (*tempUpload, int64, error) {
	f, err := os.CreateTemp("", "calllog-upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	upload := &tempUpload{File: f}

	n, err := io.Copy(f, src)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		upload.Close()
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	return upload, n, nil
}

// handleImportEvents streams import progress via Server-Sent Events.
// Supports resumption via the Last-Event-ID header or lastEventId query
// parameter; the event ID is the progress percentage.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	logger := logging.WithFields(r.Context(), "import_id", importID)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed: the import finished. The last snapshot may
				// have been dropped, so send the stored status.
				st, err := s.service.GetImport(importID)
				if err != nil {
					writeEvent(w, "error", -1, core.MapError(err))
				} else {
					writeEvent(w, "complete", 100, st)
				}
				rc.Flush()
				return
			}

			// Skip events already seen before a reconnect
			if lastEventIDStr != "" && progress.PercentComplete < lastEventID {
				continue
			}

			if err := writeEvent(w, "progress", progress.PercentComplete, progress); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event stream flush failed", "error", err)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one SSE frame. A negative id is omitted.
func writeEvent(w io.Writer, event string, id int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id >= 0 {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	} else {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	}
	return err
}

// handleListImports returns tracked imports, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"imports": s.service.ListImports()})
}

// handleGetImport returns the progress of an import and its result once done.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetImport(chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, st)
}

// handleCancelImport cancels an in-progress import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleLimiterStatus returns the current state of the import limiter.
// Used for monitoring and to check if the system can accept more imports.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.LimiterStatus())
}
