package core

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestTextDecoder(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"plain ASCII", []byte("call_time,caller_id"), "call_time,caller_id"},
		{"UTF-8 BOM stripped", append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...), "a,b"},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"empty", []byte{}, ""},
		{"multibyte kept", []byte("José,Zoë"), "José,Zoë"},
		{"invalid byte replaced", []byte{'h', 'e', 0x80, 'l', 'o'}, "he�lo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := io.ReadAll(NewTextDecoder(bytes.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestTextDecoder_UTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := enc.String("Call Time,Caller ID\r\n2024-01-01,555\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(NewTextDecoder(strings.NewReader(encoded)))
	require.NoError(t, err)
	assert.Equal(t, "Call Time,Caller ID\r\n2024-01-01,555\r\n", string(out))
}

func TestTextDecoder_SmallReads(t *testing.T) {
	// multibyte runes split across reads must survive
	input := strings.Repeat("é", 5000)
	out, err := io.ReadAll(NewTextDecoder(&oneByteReader{r: strings.NewReader(input)}))
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

type oneByteReader struct{ r io.Reader }

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestCountingReader(t *testing.T) {
	cr := NewCountingReader(strings.NewReader("0123456789"), 10)
	assert.Equal(t, 0, cr.Progress())

	buf := make([]byte, 4)
	_, err := cr.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 4, cr.BytesRead())
	assert.Equal(t, 40, cr.Progress())

	_, err = io.ReadAll(cr)
	require.NoError(t, err)
	assert.EqualValues(t, 10, cr.BytesRead())
	assert.Equal(t, 100, cr.Progress())

	assert.Equal(t, 0, NewCountingReader(strings.NewReader("x"), 0).Progress())
}
