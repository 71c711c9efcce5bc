package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = "Call Time,Caller ID,Status\n2024-03-15 09:00:00,5550001,answered\n"

func gzipBytes(t testing.TB, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t testing.TB, s string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(s), nil)
}

func xzBytes(t testing.TB, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xlsxBytes(t testing.TB, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadUpload_Formats(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		format Format
	}{
		{"plain", []byte(sampleCSV), FormatText},
		{"bom", append([]byte{0xEF, 0xBB, 0xBF}, sampleCSV...), FormatText},
		{"gzip", gzipBytes(t, sampleCSV), FormatGzip},
		{"zstd", zstdBytes(t, sampleCSV), FormatZstd},
		{"xz", xzBytes(t, sampleCSV), FormatXZ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, format, err := ReadUpload(bytes.NewReader(tt.input), 0)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, sampleCSV, text)
		})
	}
}

func TestReadUpload_Workbook(t *testing.T) {
	data := xlsxBytes(t, [][]any{
		{"Call Time", "Caller ID", "Caller Name"},
		{"2024-03-15 09:00:00", "5550001", "Smith, Ann"},
	})

	text, format, err := ReadUpload(bytes.NewReader(data), 0)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)
	assert.Equal(t, "Call Time,Caller ID,Caller Name\n2024-03-15 09:00:00,5550001,\"Smith, Ann\"\n", text)
}

func TestReadUpload_NotAWorkbook(t *testing.T) {
	_, _, err := ReadUpload(strings.NewReader("PK\x03\x04garbage"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadUpload_Empty(t *testing.T) {
	_, _, err := ReadUpload(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, _, err = ReadUpload(strings.NewReader("\n\n  \n"), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestReadUpload_TooLarge(t *testing.T) {
	_, _, err := ReadUpload(strings.NewReader(sampleCSV), 10)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	// the limit applies after decompression
	bomb := gzipBytes(t, strings.Repeat("a,b\n", 10_000))
	_, _, err = ReadUpload(bytes.NewReader(bomb), 1024)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestReadUpload_WorkbookUnzipLimit(t *testing.T) {
	rows := make([][]any, 20_000)
	for i := range rows {
		rows[i] = []any{"2024-03-15 09:00:00", "5550001", "answered"}
	}
	data := xlsxBytes(t, rows)

	// The archive itself fits; its sheet XML does not.
	const limit = 200_000
	require.Less(t, len(data), limit)

	_, _, err := ReadUpload(bytes.NewReader(data), limit)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorContains(t, err, "unzips past")
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatText, DetectFormat(nil))
	assert.Equal(t, FormatText, DetectFormat([]byte("a,b")))
	assert.Equal(t, FormatGzip, DetectFormat([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, FormatXLSX, DetectFormat([]byte("PK\x03\x04")))
}
