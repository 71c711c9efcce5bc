package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

// Dialect selects placeholder and JSON syntax for generated SQL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// column returns the SQL expression for a record field. call_time and
// caller_id are real columns; everything else lives in the fields document.
// key must have passed ValidField.
func (d Dialect) column(key string) string {
	switch key {
	case ingest.FieldCallTime, ingest.FieldCallerID:
		return key
	}
	lit := strings.ReplaceAll(key, "'", "''")
	if d == SQLite {
		return fmt.Sprintf(`json_extract(fields, '$."%s"')`, lit)
	}
	return fmt.Sprintf("(fields->>'%s')", lit)
}

// like returns the case-insensitive LIKE operator. SQLite's LIKE already
// folds ASCII case.
func (d Dialect) like() string {
	if d == SQLite {
		return "LIKE"
	}
	return "ILIKE"
}

// WhereBuilder assembles a parameterized WHERE clause.
type WhereBuilder struct {
	dialect    Dialect
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder for dialect d.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

// Placeholder binds value and returns its placeholder.
func (wb *WhereBuilder) Placeholder(value any) string {
	wb.args = append(wb.args, value)
	if wb.dialect == SQLite {
		wb.argIndex++
		return "?"
	}
	p := fmt.Sprintf("$%d", wb.argIndex)
	wb.argIndex++
	return p
}

// NextArgIndex returns the index the next placeholder will use.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Add appends "field = value". Empty values are skipped.
func (wb *WhereBuilder) Add(field, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions,
		fmt.Sprintf("%s = %s", wb.dialect.column(field), wb.Placeholder(value)))
}

// AddTimeRange bounds call_time inclusively. Zero bounds are skipped.
func (wb *WhereBuilder) AddTimeRange(from, to time.Time, encode func(time.Time) any) {
	if !from.IsZero() {
		wb.conditions = append(wb.conditions,
			fmt.Sprintf("call_time >= %s", wb.Placeholder(encode(from))))
	}
	if !to.IsZero() {
		wb.conditions = append(wb.conditions,
			fmt.Sprintf("call_time <= %s", wb.Placeholder(encode(to))))
	}
}

// AddSearch matches query as a substring of caller_id or caller_name.
func (wb *WhereBuilder) AddSearch(query string) {
	if query == "" {
		return
	}
	pattern := "%" + query + "%"
	p1 := wb.Placeholder(pattern)
	p2 := p1
	if wb.dialect == SQLite {
		// positional ? cannot be referenced twice
		p2 = wb.Placeholder(pattern)
	}
	op := wb.dialect.like()
	wb.conditions = append(wb.conditions, fmt.Sprintf("(%s %s %s OR %s %s %s)",
		wb.dialect.column(ingest.FieldCallerID), op, p1,
		wb.dialect.column(ingest.FieldCallerName), op, p2))
}

// AddFilters appends one condition per filter.
func (wb *WhereBuilder) AddFilters(filters []Filter) {
	for _, f := range filters {
		if cond := wb.buildFilter(f); cond != "" {
			wb.conditions = append(wb.conditions, cond)
		}
	}
}

func (wb *WhereBuilder) buildFilter(f Filter) string {
	col := wb.dialect.column(f.Field)
	switch f.Operator {
	case OpEquals, "":
		return fmt.Sprintf("%s = %s", col, wb.Placeholder(f.Value))
	case OpContains:
		return fmt.Sprintf("%s %s %s", col, wb.dialect.like(), wb.Placeholder("%"+f.Value+"%"))
	case OpStartsWith:
		return fmt.Sprintf("%s %s %s", col, wb.dialect.like(), wb.Placeholder(f.Value+"%"))
	case OpGreaterEq:
		return fmt.Sprintf("%s >= %s", col, wb.Placeholder(f.Value))
	case OpLessEq:
		return fmt.Sprintf("%s <= %s", col, wb.Placeholder(f.Value))
	case OpIn:
		var ps []string
		for _, v := range strings.Split(f.Value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				ps = append(ps, wb.Placeholder(v))
			}
		}
		if len(ps) == 0 {
			return ""
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(ps, ", "))
	}
	return ""
}

// Build returns the clause (with a leading " WHERE ") and its arguments.
// An empty builder returns "" and nil.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// OrderBy renders an ORDER BY clause for a validated sort key. Ties break
// on the natural key so pages are stable.
func (d Dialect) OrderBy(sort string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	clause := fmt.Sprintf(" ORDER BY %s %s", d.column(sort), dir)
	if sort != ingest.FieldCallTime {
		clause += ", call_time " + dir
	}
	return clause + ", caller_id " + dir
}
