package ingest

import (
	"strings"
	"unicode"
)

// Canonical field names.
const (
	FieldCallTime    = "call_time"
	FieldCallerID    = "caller_id"
	FieldCallerName  = "caller_name"
	FieldCallee      = "callee"
	FieldStatus      = "status"
	FieldDuration    = "duration"
	FieldDirection   = "direction"
	FieldAgent       = "agent"
	FieldQueue       = "queue"
	FieldSource      = "source"
	FieldCallID      = "call_id"
	FieldRecording   = "recording_url"
	FieldDisposition = "disposition"
)

// CanonicalFields lists every canonical key in display order.
var CanonicalFields = []string{
	FieldCallTime,
	FieldCallerID,
	FieldCallerName,
	FieldCallee,
	FieldStatus,
	FieldDuration,
	FieldDirection,
	FieldAgent,
	FieldQueue,
	FieldSource,
	FieldCallID,
	FieldRecording,
	FieldDisposition,
}

// headerAliases maps a normalized header label to its canonical key.
// Keys must already be in NormalizeHeader form.
var headerAliases = map[string]string{
	"calltime":      FieldCallTime,
	"callstart":     FieldCallTime,
	"callstarttime": FieldCallTime,
	"date/time":     FieldCallTime,
	"datetime":      FieldCallTime,
	"starttime":     FieldCallTime,
	"timestamp":     FieldCallTime,

	"callerid":     FieldCallerID,
	"caller":       FieldCallerID,
	"callernumber": FieldCallerID,
	"callerphone":  FieldCallerID,
	"from":         FieldCallerID,
	"fromnumber":   FieldCallerID,
	"ani":          FieldCallerID,
	"phone":        FieldCallerID,
	"phonenumber":  FieldCallerID,

	"callername":   FieldCallerName,
	"calleridname": FieldCallerName,
	"name":         FieldCallerName,
	"customername": FieldCallerName,

	"to":           FieldCallee,
	"tonumber":     FieldCallee,
	"callee":       FieldCallee,
	"callednumber": FieldCallee,
	"dialednumber": FieldCallee,
	"dnis":         FieldCallee,
	"destination":  FieldCallee,

	"status":     FieldStatus,
	"callstatus": FieldStatus,
	"result":     FieldStatus,

	"duration":        FieldDuration,
	"callduration":    FieldDuration,
	"durationseconds": FieldDuration,
	"durations":       FieldDuration,
	"length":          FieldDuration,
	"talktime":        FieldDuration,

	"direction": FieldDirection,
	"calltype":  FieldDirection,
	"type":      FieldDirection,

	"agent":     FieldAgent,
	"agentname": FieldAgent,
	"user":      FieldAgent,
	"username":  FieldAgent,

	"queue":     FieldQueue,
	"queuename": FieldQueue,

	"source":          FieldSource,
	"trackingsource":  FieldSource,
	"marketingsource": FieldSource,
	"campaign":        FieldSource,

	"callid":   FieldCallID,
	"uniqueid": FieldCallID,
	"id":       FieldCallID,

	"recording":     FieldRecording,
	"recordingurl":  FieldRecording,
	"recordinglink": FieldRecording,

	"disposition":     FieldDisposition,
	"calldisposition": FieldDisposition,
	"wrapupcode":      FieldDisposition,
}

// timePart marks a header that carries only half of the call time.
type timePart int

const (
	partNone timePart = iota
	partDate
	partClock
)

// callTimeParts maps normalized labels of split date and time columns.
// Exports that put the date and the time of day in separate columns are
// joined back into call_time by the Mapper.
var callTimeParts = map[string]timePart{
	"date":      partDate,
	"calldate":  partDate,
	"startdate": partDate,
	"time":      partClock,
	"clock":     partClock,
	"timeofday": partClock,
}

// sentinels are timestamp-column values that mark footer rows.
var sentinels = map[string]bool{
	"totals":     true,
	"total":      true,
	"grandtotal": true,
}

// NormalizeHeader folds a header label for lookup: trimmed, lower-cased,
// with whitespace and underscores removed.
func NormalizeHeader(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsSpace(r) || r == '_' || r == '\ufeff' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// CanonicalKey resolves a header label. Unknown labels pass through trimmed.
func CanonicalKey(label string) string {
	if key, ok := headerAliases[NormalizeHeader(label)]; ok {
		return key
	}
	return strings.TrimSpace(strings.TrimPrefix(label, "\ufeff"))
}

// IsCanonical reports whether key is one of CanonicalFields.
func IsCanonical(key string) bool {
	for _, f := range CanonicalFields {
		if f == key {
			return true
		}
	}
	return false
}

// IsSentinel reports whether v is a footer marker such as "Totals".
func IsSentinel(v string) bool {
	return sentinels[NormalizeHeader(v)]
}

// CleanCell trims a cell and unwraps spreadsheet text cells (="0123").
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}
