package sink

import (
	"testing"
	"time"
)

// ============================================================================
// WhereBuilder Tests
// ============================================================================

func TestNewWhereBuilder(t *testing.T) {
	wb := NewWhereBuilder(Postgres)

	if wb.argIndex != 1 {
		t.Errorf("expected argIndex to be 1, got %d", wb.argIndex)
	}
	if len(wb.conditions) != 0 {
		t.Errorf("expected empty conditions, got %d", len(wb.conditions))
	}
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	wb := NewWhereBuilder(Postgres)
	whereClause, args := wb.Build()

	if whereClause != "" {
		t.Errorf("expected empty string for no conditions, got %q", whereClause)
	}
	if args != nil {
		t.Errorf("expected nil args for no conditions, got %v", args)
	}
}

func TestWhereBuilder_Add_MultipleConditions(t *testing.T) {
	wb := NewWhereBuilder(Postgres)
	wb.Add("caller_id", "5551234")
	wb.Add("status", "answered")
	wb.Add("queue", "")

	whereClause, args := wb.Build()

	expected := " WHERE caller_id = $1 AND (fields->>'status') = $2"
	if whereClause != expected {
		t.Errorf("expected %q, got %q", expected, whereClause)
	}
	if len(args) != 2 || args[0] != "5551234" || args[1] != "answered" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestWhereBuilder_SQLitePlaceholders(t *testing.T) {
	wb := NewWhereBuilder(SQLite)
	wb.Add("status", "missed")
	wb.AddSearch("smith")

	whereClause, args := wb.Build()

	expected := ` WHERE json_extract(fields, '$."status"') = ? AND ` +
		`(caller_id LIKE ? OR json_extract(fields, '$."caller_name"') LIKE ?)`
	if whereClause != expected {
		t.Errorf("expected %q, got %q", expected, whereClause)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if args[1] != "%smith%" || args[2] != "%smith%" {
		t.Errorf("unexpected search args %v", args[1:])
	}
	if wb.NextArgIndex() != 4 {
		t.Errorf("expected next index 4, got %d", wb.NextArgIndex())
	}
}

func TestWhereBuilder_AddSearch_PostgresReusesPlaceholder(t *testing.T) {
	wb := NewWhereBuilder(Postgres)
	wb.AddSearch("smith")

	whereClause, args := wb.Build()

	expected := " WHERE (caller_id ILIKE $1 OR (fields->>'caller_name') ILIKE $1)"
	if whereClause != expected {
		t.Errorf("expected %q, got %q", expected, whereClause)
	}
	if len(args) != 1 {
		t.Errorf("expected 1 arg, got %d", len(args))
	}
}

func TestWhereBuilder_AddTimeRange(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	wb := NewWhereBuilder(Postgres)
	wb.AddTimeRange(from, to, func(t time.Time) any { return t })
	whereClause, args := wb.Build()

	if whereClause != " WHERE call_time >= $1 AND call_time <= $2" {
		t.Errorf("unexpected clause %q", whereClause)
	}
	if args[0] != from || args[1] != to {
		t.Errorf("unexpected args %v", args)
	}

	wb = NewWhereBuilder(Postgres)
	wb.AddTimeRange(time.Time{}, to, func(t time.Time) any { return t })
	whereClause, _ = wb.Build()
	if whereClause != " WHERE call_time <= $1" {
		t.Errorf("unexpected clause %q", whereClause)
	}
}

func TestWhereBuilder_Filters(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		expected string
		args     []any
	}{
		{"equals", Filter{"status", OpEquals, "answered"}, " WHERE (fields->>'status') = $1", []any{"answered"}},
		{"contains", Filter{"agent", OpContains, "ann"}, " WHERE (fields->>'agent') ILIKE $1", []any{"%ann%"}},
		{"starts", Filter{"caller_id", OpStartsWith, "555"}, " WHERE caller_id ILIKE $1", []any{"555%"}},
		{"gte", Filter{"duration", OpGreaterEq, "60"}, " WHERE (fields->>'duration') >= $1", []any{"60"}},
		{"lte", Filter{"duration", OpLessEq, "90"}, " WHERE (fields->>'duration') <= $1", []any{"90"}},
		{"in", Filter{"status", OpIn, "missed, voicemail"}, " WHERE (fields->>'status') IN ($1, $2)", []any{"missed", "voicemail"}},
		{"quoted key", Filter{"it's", OpEquals, "x"}, " WHERE (fields->>'it''s') = $1", []any{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder(Postgres)
			wb.AddFilters([]Filter{tt.filter})
			whereClause, args := wb.Build()

			if whereClause != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, whereClause)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("expected %d args, got %d", len(tt.args), len(args))
			}
			for i := range args {
				if args[i] != tt.args[i] {
					t.Errorf("arg %d: expected %v, got %v", i, tt.args[i], args[i])
				}
			}
		})
	}
}

func TestWhereBuilder_EmptyInFilterSkipped(t *testing.T) {
	wb := NewWhereBuilder(Postgres)
	wb.AddFilters([]Filter{{Field: "status", Operator: OpIn, Value: " , "}})

	if whereClause, _ := wb.Build(); whereClause != "" {
		t.Errorf("expected no clause, got %q", whereClause)
	}
}

func TestDialect_OrderBy(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		sort     string
		desc     bool
		expected string
	}{
		{Postgres, "call_time", true, " ORDER BY call_time DESC, caller_id DESC"},
		{Postgres, "status", false, " ORDER BY (fields->>'status') ASC, call_time ASC, caller_id ASC"},
		{SQLite, "agent", true, ` ORDER BY json_extract(fields, '$."agent"') DESC, call_time DESC, caller_id DESC`},
	}

	for _, tt := range tests {
		if got := tt.dialect.OrderBy(tt.sort, tt.desc); got != tt.expected {
			t.Errorf("OrderBy(%q, %v): expected %q, got %q", tt.sort, tt.desc, tt.expected, got)
		}
	}
}

// ============================================================================
// CallQuery Tests
// ============================================================================

func TestCallQuery_Normalize_Defaults(t *testing.T) {
	q := CallQuery{}
	if err := q.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.Page != 1 || q.PageSize != DefaultPageSize {
		t.Errorf("expected page 1 size %d, got %d/%d", DefaultPageSize, q.Page, q.PageSize)
	}
	if q.Sort != "call_time" || !q.Desc {
		t.Errorf("expected call_time desc, got %s desc=%v", q.Sort, q.Desc)
	}
}

func TestCallQuery_Normalize_Clamps(t *testing.T) {
	q := CallQuery{Page: 3, PageSize: 10_000}
	if err := q.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PageSize != MaxPageSize {
		t.Errorf("expected page size %d, got %d", MaxPageSize, q.PageSize)
	}
	if q.Offset() != 2*MaxPageSize {
		t.Errorf("expected offset %d, got %d", 2*MaxPageSize, q.Offset())
	}
}

func TestCallQuery_Normalize_Rejects(t *testing.T) {
	tests := []struct {
		name string
		q    CallQuery
	}{
		{"sort injection", CallQuery{Sort: "x'; DROP TABLE call_records; --"}},
		{"filter field", CallQuery{Filters: []Filter{{Field: "a;b", Value: "1"}}}},
		{"operator", CallQuery{Filters: []Filter{{Field: "status", Operator: "regex", Value: "1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.q.Normalize(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCallQuery_Normalize_DefaultOperator(t *testing.T) {
	q := CallQuery{Filters: []Filter{{Field: "status", Value: "missed"}}}
	if err := q.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Filters[0].Operator != OpEquals {
		t.Errorf("expected eq, got %q", q.Filters[0].Operator)
	}
}
