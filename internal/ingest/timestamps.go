package ingest

import (
	"strings"
	"time"
)

// TwoDigitYearPivot splits two-digit years: yy below the pivot is 20yy,
// anything else is 19yy.
var TwoDigitYearPivot = 50

var (
	// Layouts carrying a zone offset.
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05 MST",
		time.RFC1123Z,
		time.RFC1123,
	}

	// Layouts read as UTC.
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04:05PM",
		"1/2/2006 3:04 PM",
		"1/2/2006 3:04PM",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1-2-2006 15:04:05",
		"1-2-2006 3:04:05 PM",
		"Jan 2, 2006 3:04:05 PM",
		"Jan 2, 2006 3:04 PM",
		"Jan 2, 2006 15:04:05",
		"Jan 2, 2006 15:04",
		"Mon Jan 2 15:04:05 2006",
		"2006-01-02",
		"2006/01/02",
		"1/2/2006",
		"1-2-2006",
		"Jan 2, 2006",
		"2 Jan 2006",
	}

	twoDigitYearLayouts = []string{
		"1/2/06 3:04:05 PM",
		"1/2/06 3:04 PM",
		"1/2/06 15:04:05",
		"1/2/06 15:04",
		"1/2/06",
		"1-2-06",
	}
)

// ParseTimestamp parses the call-time formats seen in telephony exports.
// Zoneless values are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}

	for _, layout := range twoDigitYearLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return applyPivot(t), true
		}
	}

	return time.Time{}, false
}

// applyPivot re-centres the century Go picked for a two-digit year
// (Go maps 69-99 to 19yy and 00-68 to 20yy).
func applyPivot(t time.Time) time.Time {
	yy := t.Year() % 100
	want := 1900 + yy
	if yy < TwoDigitYearPivot {
		want = 2000 + yy
	}
	return t.AddDate(want-t.Year(), 0, 0)
}

// FormatTimestamp renders the canonical stored form of a call time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
