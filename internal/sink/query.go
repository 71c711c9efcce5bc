package sink

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

// Pagination limits for ListCalls.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// FilterOperator is a comparison applied to a record field.
type FilterOperator string

const (
	OpEquals     FilterOperator = "eq"
	OpContains   FilterOperator = "contains"
	OpStartsWith FilterOperator = "starts"
	OpGreaterEq  FilterOperator = "gte"
	OpLessEq     FilterOperator = "lte"
	OpIn         FilterOperator = "in"
)

// Filter is one condition on a record field. Conditions are ANDed.
type Filter struct {
	Field    string
	Operator FilterOperator
	Value    string // comma-separated for OpIn
}

// CallQuery selects a page of stored calls.
type CallQuery struct {
	Filters []Filter

	// Search matches caller_id or caller_name as a substring.
	Search string

	// From and To bound call_time inclusively; zero means unbounded.
	From time.Time
	To   time.Time

	Sort string // field key, default call_time
	Desc bool

	Page     int // 1-based
	PageSize int
}

// Call is a stored call record.
type Call struct {
	CallTime  time.Time         `json:"call_time"`
	CallerID  string            `json:"caller_id"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CallPage is one page of ListCalls results.
type CallPage struct {
	Calls      []Call `json:"calls"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// fieldKeyPattern limits which pass-through keys may appear in SQL.
var fieldKeyPattern = regexp.MustCompile(`^[A-Za-z0-9 _\-./#()]{1,64}$`)

// ValidField reports whether key can be filtered or sorted on.
func ValidField(key string) bool {
	return ingest.IsCanonical(key) || fieldKeyPattern.MatchString(key)
}

// Normalize applies defaults and validates field names and operators.
func (q *CallQuery) Normalize() error {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	// Newest first unless a sort key is given.
	if q.Sort == "" {
		q.Sort = ingest.FieldCallTime
		q.Desc = true
	}
	if !ValidField(q.Sort) {
		return fmt.Errorf("invalid sort field %q", q.Sort)
	}

	for i, f := range q.Filters {
		if !ValidField(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
		if f.Operator == "" {
			q.Filters[i].Operator = OpEquals
			continue
		}
		switch f.Operator {
		case OpEquals, OpContains, OpStartsWith, OpGreaterEq, OpLessEq, OpIn:
		default:
			return fmt.Errorf("invalid filter operator %q", f.Operator)
		}
	}

	q.Search = strings.TrimSpace(q.Search)
	return nil
}

// Offset returns the row offset of the requested page.
func (q CallQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

func newPage(q CallQuery, total int64, calls []Call) *CallPage {
	pages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	if calls == nil {
		calls = []Call{}
	}
	return &CallPage{
		Calls:      calls,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: pages,
	}
}
