package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	utc := func(y int, mo time.Month, d, h, mi, s int) time.Time {
		return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	}

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-01T00:00:00Z", utc(2024, 1, 1, 0, 0, 0), true},
		{"2024-01-01T05:00:00+05:00", utc(2024, 1, 1, 0, 0, 0), true},
		{"2024-01-01 12:30:45", utc(2024, 1, 1, 12, 30, 45), true},
		{"2024-01-01T12:30", utc(2024, 1, 1, 12, 30, 0), true},
		{"1/2/2024 3:04 PM", utc(2024, 1, 2, 15, 4, 0), true},
		{"12/31/2023 11:59:59 PM", utc(2023, 12, 31, 23, 59, 59), true},
		{"1/2/2024 15:04", utc(2024, 1, 2, 15, 4, 0), true},
		{"Jan 2, 2024 3:04 PM", utc(2024, 1, 2, 15, 4, 0), true},
		{"2024-01-02", utc(2024, 1, 2, 0, 0, 0), true},
		{"1/2/2024", utc(2024, 1, 2, 0, 0, 0), true},
		{"1/2/24", utc(2024, 1, 2, 0, 0, 0), true},
		{"1/2/75", utc(1975, 1, 2, 0, 0, 0), true},
		{"  2024-01-02  ", utc(2024, 1, 2, 0, 0, 0), true},
		{"", time.Time{}, false},
		{"Totals", time.Time{}, false},
		{"13/45/2024", time.Time{}, false},
		{"not a date", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 1, 1, 19, 0, 0, 0, loc)
	assert.Equal(t, "2024-01-02T00:00:00Z", FormatTimestamp(ts))
}
