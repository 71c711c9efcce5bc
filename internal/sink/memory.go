package sink

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

// Memory is an in-process Store. It backs tests and --sink=memory dry runs.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]*Call

	// PingErr is returned by Ping when set.
	PingErr error

	// FailBatch, when set, is consulted before each batch; a non-nil error
	// fails the whole batch.
	FailBatch func(records []ingest.Record) error

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*Call), now: time.Now}
}

func (m *Memory) Ping(context.Context) error { return m.PingErr }

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// UpsertBatch stores records by natural key.
func (m *Memory) UpsertBatch(ctx context.Context, records []ingest.Record, _ bool) (ingest.BatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ingest.BatchOutcome{}, err
	}
	if m.FailBatch != nil {
		if err := m.FailBatch(records); err != nil {
			return ingest.BatchOutcome{}, err
		}
	}

	var out ingest.BatchOutcome
	rows := prepareRows(records, &out)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, r := range rows {
		key := naturalKey(r.callTime, r.callerID)
		fields := maps.Clone(map[string]string(r.rec))
		if existing, ok := m.rows[key]; ok {
			existing.Fields = fields
			existing.UpdatedAt = now
			out.Updated++
			continue
		}
		m.rows[key] = &Call{
			CallTime:  r.callTime,
			CallerID:  r.callerID,
			Fields:    fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		out.Created++
	}
	return out, nil
}

func naturalKey(t time.Time, callerID string) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + callerID
}

// CountCalls returns the number of stored calls.
func (m *Memory) CountCalls(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}

func (m *Memory) Reset(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rows))
	m.rows = make(map[string]*Call)
	return n, nil
}

// ListCalls filters, sorts and paginates in memory.
func (m *Memory) ListCalls(_ context.Context, q CallQuery) (*CallPage, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := make([]Call, 0, len(m.rows))
	for _, r := range m.rows {
		if matchCall(*r, q) {
			c := *r
			c.Fields = maps.Clone(c.Fields)
			matched = append(matched, c)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Call) int {
		c := compareCalls(a, b, q.Sort)
		if q.Desc {
			return -c
		}
		return c
	})

	total := int64(len(matched))
	start := min(q.Offset(), len(matched))
	end := min(start+q.PageSize, len(matched))
	return newPage(q, total, matched[start:end]), nil
}

func fieldValue(c Call, key string) string {
	switch key {
	case ingest.FieldCallTime:
		return sqliteTime(c.CallTime)
	case ingest.FieldCallerID:
		return c.CallerID
	}
	return c.Fields[key]
}

func compareCalls(a, b Call, sort string) int {
	var c int
	if sort == ingest.FieldCallTime {
		c = a.CallTime.Compare(b.CallTime)
	} else {
		c = cmp.Compare(fieldValue(a, sort), fieldValue(b, sort))
		if c == 0 {
			c = a.CallTime.Compare(b.CallTime)
		}
	}
	if c == 0 {
		c = cmp.Compare(a.CallerID, b.CallerID)
	}
	return c
}

func matchCall(c Call, q CallQuery) bool {
	if !q.From.IsZero() && c.CallTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && c.CallTime.After(q.To) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(c.CallerID), needle) &&
			!strings.Contains(strings.ToLower(c.Fields[ingest.FieldCallerName]), needle) {
			return false
		}
	}
	for _, f := range q.Filters {
		var ok bool
		if f.Field == ingest.FieldCallTime {
			ok = matchTimeFilter(c.CallTime, f)
		} else {
			ok = matchFilter(fieldValue(c, f.Field), f)
		}
		if !ok {
			return false
		}
	}
	return true
}

// matchTimeFilter compares call times as instants, the way the SQL stores
// compare their timestamp columns. Values that do not parse match nothing.
func matchTimeFilter(ct time.Time, f Filter) bool {
	switch f.Operator {
	case OpContains, OpStartsWith:
		return matchFilter(fieldValue(Call{CallTime: ct}, ingest.FieldCallTime), f)
	case OpIn:
		for _, v := range strings.Split(f.Value, ",") {
			if t, ok := ingest.ParseTimestamp(v); ok && ct.Equal(t) {
				return true
			}
		}
		return false
	}

	t, ok := ingest.ParseTimestamp(f.Value)
	if !ok {
		return false
	}
	switch f.Operator {
	case OpEquals, "":
		return ct.Equal(t)
	case OpGreaterEq:
		return !ct.Before(t)
	case OpLessEq:
		return !ct.After(t)
	}
	return false
}

func matchFilter(v string, f Filter) bool {
	switch f.Operator {
	case OpEquals, "":
		return v == f.Value
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(f.Value))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(v), strings.ToLower(f.Value))
	case OpGreaterEq:
		return v >= f.Value
	case OpLessEq:
		return v <= f.Value
	case OpIn:
		for _, want := range strings.Split(f.Value, ",") {
			if v == strings.TrimSpace(want) {
				return true
			}
		}
	}
	return false
}
