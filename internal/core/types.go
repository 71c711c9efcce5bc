package core

import (
	"errors"
	"io"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

var (
	ErrImportNotFound = errors.New("import not found")
	ErrNoFile         = errors.New("no file provided")
)

// ImportRequest describes one file to import.
type ImportRequest struct {
	FileName string
	Reader   io.Reader
	Size     int64 // 0 if unknown

	// Aggressive overrides the configured throttle mode when non-nil.
	Aggressive *bool
	// BatchSize overrides the configured batch size when positive.
	BatchSize int
	// Delimiter forces a field separator; zero detects it.
	Delimiter rune
}

// ImportProgress is the live state of an import as seen by subscribers.
type ImportProgress struct {
	ImportID string `json:"import_id"`
	FileName string `json:"file_name"`
	ingest.ProgressEvent
	BytesRead  int64  `json:"bytes_read"`
	BytesTotal int64  `json:"bytes_total"`
	Error      string `json:"error,omitempty"`
}

// ImportResult is the final outcome of an import.
type ImportResult struct {
	ImportID string        `json:"import_id"`
	FileName string        `json:"file_name"`
	Format   Format        `json:"format"`
	Result   ingest.Result `json:"result"`
	Error    string        `json:"error,omitempty"`
	// UserError is the mapped, user-facing form of Error.
	UserError *UserMessage  `json:"user_error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ImportInfo summarizes an import for listings.
type ImportInfo struct {
	ImportID    string       `json:"import_id"`
	FileName    string       `json:"file_name"`
	Phase       ingest.Phase `json:"phase"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	RequestedBy string       `json:"requested_by,omitempty"`
	Created     int          `json:"created"`
	Updated     int          `json:"updated"`
	Failed      int          `json:"failed"`
}

// ImportStatus is the point-in-time view of one import.
type ImportStatus struct {
	Progress ImportProgress `json:"progress"`
	Result   *ImportResult  `json:"result,omitempty"`
}
