package ingest

import (
	"strings"
	"time"
)

// Rejection explains why a row produced no record. Accepted means the row
// mapped successfully.
type Rejection string

const (
	Accepted                Rejection = ""
	RejectMissingTimestamp  Rejection = "missing call time"
	RejectSentinel          Rejection = "footer row"
	RejectBadTimestamp      Rejection = "unparseable call time"
	RejectMissingIdentifier Rejection = "missing caller id"
)

// MaxHeaderSearchRows bounds how far FindHeader looks for the header row.
var MaxHeaderSearchRows = 20

// Mapper turns data rows into Records for one header row. Header labels are
// resolved once, so a Mapper is safe for concurrent use.
type Mapper struct {
	keys []string // canonical key per column, "" for ignored columns

	// Split date and time-of-day columns, -1 when absent. They are only
	// consulted when no full call time column exists.
	dateCol, clockCol int
}

// NewMapper resolves header labels against the canonical table. When two
// columns resolve to the same key the first one wins.
func NewMapper(header []string) *Mapper {
	m := &Mapper{keys: make([]string, len(header)), dateCol: -1, clockCol: -1}
	seen := make(map[string]bool, len(header))
	for i, label := range header {
		label = CleanCell(label)
		switch callTimeParts[NormalizeHeader(label)] {
		case partDate:
			if m.dateCol < 0 {
				m.dateCol = i
			}
			continue
		case partClock:
			if m.clockCol < 0 {
				m.clockCol = i
			}
			continue
		}

		key := CanonicalKey(label)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		m.keys[i] = key
	}

	switch {
	case seen[FieldCallTime]:
		// A full call time column wins; keep the parts as plain columns.
		m.keepPart(header, &m.dateCol, seen)
		m.keepPart(header, &m.clockCol, seen)
	case m.dateCol < 0 && m.clockCol >= 0:
		// A lone "Time" column holds the whole timestamp.
		m.keys[m.clockCol] = FieldCallTime
		m.clockCol = -1
	}
	return m
}

func (m *Mapper) keepPart(header []string, col *int, seen map[string]bool) {
	if *col < 0 {
		return
	}
	key := strings.TrimSpace(strings.TrimPrefix(CleanCell(header[*col]), "\ufeff"))
	if key != "" && !seen[key] {
		seen[key] = true
		m.keys[*col] = key
	}
	*col = -1
}

// Keys returns the resolved key for each header column. Split date and
// time columns that are joined into the call time resolve to "".
func (m *Mapper) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// HasRequired reports whether the header carries both required columns.
// A date column counts as a call time column.
func (m *Mapper) HasRequired() bool {
	hasTime := m.dateCol >= 0
	var hasID bool
	for _, k := range m.keys {
		switch k {
		case FieldCallTime:
			hasTime = true
		case FieldCallerID:
			hasID = true
		}
	}
	return hasTime && hasID
}

// Map converts one data row. Missing trailing cells become empty strings
// and cells beyond the header are ignored. The call time is re-rendered in
// RFC 3339 UTC so the natural key does not depend on the export format.
func (m *Mapper) Map(row []string) (Record, Rejection) {
	rec := make(Record, len(m.keys))
	for i, key := range m.keys {
		if key == "" {
			continue
		}
		rec[key] = cell(row, i)
	}

	raw, joined := rec[FieldCallTime], ""
	if m.dateCol >= 0 {
		raw = cell(row, m.dateCol)
		if clock := cell(row, m.clockCol); raw != "" && clock != "" {
			joined = raw + " " + clock
		}
	}

	switch {
	case raw == "":
		return nil, RejectMissingTimestamp
	case IsSentinel(raw):
		return nil, RejectSentinel
	}

	ts, ok := time.Time{}, false
	if joined != "" {
		ts, ok = ParseTimestamp(joined)
	}
	if !ok {
		// The date cell may already hold a full timestamp.
		ts, ok = ParseTimestamp(raw)
	}
	if !ok {
		return nil, RejectBadTimestamp
	}
	if rec[FieldCallerID] == "" {
		return nil, RejectMissingIdentifier
	}

	rec[FieldCallTime] = FormatTimestamp(ts)
	return rec, Accepted
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return CleanCell(row[i])
}

// MapRecord maps a single row against header.
func MapRecord(header, row []string) (Record, bool) {
	rec, rej := NewMapper(header).Map(row)
	return rec, rej == Accepted
}

// FindHeader returns the index of the first row, within
// MaxHeaderSearchRows, whose labels resolve to both required fields.
// Exports often carry title or filter lines above the header. When no such
// row exists the first non-empty row is used; -1 means rows has no content.
func FindHeader(rows [][]string) int {
	limit := MaxHeaderSearchRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		if NewMapper(rows[i]).HasRequired() {
			return i
		}
	}
	for i, row := range rows {
		if !isEmptyRow(row) {
			return i
		}
	}
	return -1
}
