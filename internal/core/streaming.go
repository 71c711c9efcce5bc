package core

// streaming.go normalizes upload bytes into UTF-8 text before parsing.
//
// Exports from phone systems and spreadsheets arrive as UTF-8 with or
// without a BOM, and occasionally as UTF-16. Invalid byte sequences are
// replaced with U+FFFD rather than failing the import.

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NewTextDecoder returns a reader that strips a UTF-8 BOM, decodes UTF-16
// input announced by a BOM, and repairs invalid UTF-8.
func NewTextDecoder(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// CountingReader tracks bytes read for progress reporting. BytesRead is
// safe to call from other goroutines.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader wraps r; total may be 0 when the size is unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(min(r.BytesRead()*100/r.Total, 100))
}
