package web

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
	"github.com/JonMunkholm/calllog/internal/logging"
	"github.com/JonMunkholm/calllog/internal/sink"
)

// handleListCalls returns one page of stored calls.
//
// Query parameters: page, page_size, sort, order (asc|desc), from, to,
// q (substring of caller_id or caller_name), filter[<field>]=<op>:<value>
// and <canonical field>=<value> for equality.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q, err := parseCallQuery(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	page, err := s.service.ListCalls(r.Context(), q)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, page)
}

// handleExportCalls streams every call matching the query as CSV, one
// column per canonical field.
func (s *Server) handleExportCalls(w http.ResponseWriter, r *http.Request) {
	q, err := parseCallQuery(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	q.Page = 1
	q.PageSize = sink.MaxPageSize

	// Fetch the first page before committing to a 200.
	page, err := s.service.ListCalls(r.Context(), q)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("calls_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	cw := csv.NewWriter(w)
	cw.Write(ingest.CanonicalFields)

	written := 0
	for {
		for _, c := range page.Calls {
			cw.Write(callRow(c))
		}
		written += len(page.Calls)

		if page.Page >= page.TotalPages {
			break
		}
		q.Page++
		page, err = s.service.ListCalls(r.Context(), q)
		if err != nil {
			// Headers are sent; all we can do is stop and log.
			logging.FromContext(r.Context()).Error("call export aborted",
				"rows_written", written,
				"error", err,
			)
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Warn("call export write failed", "error", err)
	}
}

func callRow(c sink.Call) []string {
	row := make([]string, len(ingest.CanonicalFields))
	for i, key := range ingest.CanonicalFields {
		switch key {
		case ingest.FieldCallTime:
			row[i] = ingest.FormatTimestamp(c.CallTime)
		case ingest.FieldCallerID:
			row[i] = c.CallerID
		default:
			row[i] = c.Fields[key]
		}
	}
	return row
}

// reservedParams are query parameters that are never field filters.
var reservedParams = map[string]bool{
	"page": true, "page_size": true, "sort": true, "order": true,
	"from": true, "to": true, "q": true,
}

// parseCallQuery builds and validates a CallQuery from URL parameters.
func parseCallQuery(r *http.Request) (sink.CallQuery, error) {
	values := r.URL.Query()

	q := sink.CallQuery{
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "page_size", sink.DefaultPageSize),
		Sort:     strings.TrimSpace(values.Get("sort")),
		Search:   values.Get("q"),
	}

	switch strings.ToLower(values.Get("order")) {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("%w: order must be asc or desc", errBadRequest)
	}

	var err error
	if q.From, err = parseTimeParam(values, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseTimeParam(values, "to"); err != nil {
		return q, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return q, fmt.Errorf("%w: to is before from", errBadRequest)
	}

	q.Filters = parseFilters(values)

	if err := q.Normalize(); err != nil {
		return q, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return q, nil
}

// parseFilters reads filter[<field>]=<op>:<value> parameters and bare
// canonical-field equality parameters. Output order is stable.
func parseFilters(values url.Values) []sink.Filter {
	var filters []sink.Filter

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if reservedParams[key] {
			continue
		}

		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
			field := key[len("filter[") : len(key)-1]
			if field == "" {
				continue
			}
			for _, val := range values[key] {
				op, filterVal, ok := strings.Cut(val, ":")
				if !ok {
					// No operator given, treat as equality
					op, filterVal = string(sink.OpEquals), val
				}
				if filterVal == "" {
					continue
				}
				filters = append(filters, sink.Filter{
					Field:    field,
					Operator: sink.FilterOperator(op),
					Value:    filterVal,
				})
			}
			continue
		}

		if !ingest.IsCanonical(key) {
			continue
		}
		if v := values.Get(key); v != "" {
			filters = append(filters, sink.Filter{Field: key, Operator: sink.OpEquals, Value: v})
		}
	}

	return filters
}

// parseTimeParam accepts any call-time format the importer understands.
func parseTimeParam(values url.Values, name string) (time.Time, error) {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return time.Time{}, nil
	}
	t, ok := ingest.ParseTimestamp(v)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s is not a recognized timestamp", errBadRequest, name)
	}
	return t, nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
