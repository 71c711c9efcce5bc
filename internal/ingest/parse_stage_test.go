package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseChunks_PreservesOrderAndSkipsRejected(t *testing.T) {
	var rows [][]string
	for i := 0; i < 50; i++ {
		ts := fmt.Sprintf("2024-01-01T00:%02d:00Z", i)
		if i%10 == 9 {
			ts = "Totals"
		}
		rows = append(rows, []string{ts, fmt.Sprintf("555-%04d", i)})
	}

	m := NewMapper([]string{"Call Time", "Caller ID"})
	records, rejected, err := ParseChunks(context.Background(), m, Chunk(rows, 4), 4, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 5, rejected)
	require.Len(t, records, 45)

	prev := ""
	for _, r := range records {
		assert.Greater(t, r.CallTime(), prev)
		prev = r.CallTime()
	}
}

func TestParseChunks_Empty(t *testing.T) {
	records, rejected, err := ParseChunks(context.Background(), NewMapper(exampleHeader), nil, 4, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, rejected)
}

func TestParseChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := [][]string{{"2024-01-01", "555"}}
	_, _, err := ParseChunks(ctx, NewMapper([]string{"Call Time", "Caller ID"}), Chunk(rows, 1), 1, discardLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeMap_RecoversPanic(t *testing.T) {
	// A nil mapper panics on dereference.
	var m *Mapper
	rec, rej := safeMap(m, []string{"x"}, discardLogger(), 0, 0)
	assert.Nil(t, rec)
	assert.Equal(t, rejectPanic, rej)
}
