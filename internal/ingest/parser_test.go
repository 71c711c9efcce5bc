package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ParseLine
// =============================================================================

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		delim rune
		want  []string
	}{
		{"simple", "a,b,c", ',', []string{"a", "b", "c"}},
		{"empty fields", "a,,c,", ',', []string{"a", "", "c", ""}},
		{"empty line", "", ',', []string{""}},
		{"quoted delimiter", `"Smith, John",555-0100`, ',', []string{"Smith, John", "555-0100"}},
		{"escaped quote", `"say ""hi""",x`, ',', []string{`say "hi"`, "x"}},
		{"empty quoted", `"",x`, ',', []string{"", "x"}},
		{"unterminated quote runs to end", `a,"open, field`, ',', []string{"a", "open, field"}},
		{"text after closing quote kept", `"ab"cd,e`, ',', []string{"abcd", "e"}},
		{"mid-field quote is literal", `5" screen,x`, ',', []string{`5" screen`, "x"}},
		{"semicolon", "a;b;c", ';', []string{"a", "b", "c"}},
		{"tab", "a\tb", '\t', []string{"a", "b"}},
		{"zero delimiter means comma", "a,b", 0, []string{"a", "b"}},
		{"unicode", "café,naïve", ',', []string{"café", "naïve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.line, tt.delim))
		})
	}
}

// =============================================================================
// SplitLines / ParseRows
// =============================================================================

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lf", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"no trailing newline", "a\nb", []string{"a", "b"}},
		{"newline in quotes", "\"x\ny\",z\nnext", []string{"\"x\ny\",z", "next"}},
		{"escaped quote keeps quoting open", "\"a\"\"\nb\",c\nd", []string{"\"a\"\"\nb\",c", "d"}},
		{"mid-field quote does not open", "5\" tv,x\nnext", []string{"5\" tv,x", "next"}},
		{"blank lines kept", "a\n\nb", []string{"a", "", "b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitLines(tt.text, ','))
		})
	}
}

func TestParseRows_DetectsDelimiter(t *testing.T) {
	rows := ParseRows("\nCall Time;Caller ID\n2024-01-01;555\n", 0)
	assert.Equal(t, [][]string{{""}, {"Call Time", "Caller ID"}, {"2024-01-01", "555"}}, rows)
}

func TestDetectFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want rune
	}{
		{"comma header, semicolons in data", "Call Time,Caller ID,Notes\n2024-01-01,555,a; b; c; d\n", ','},
		{"semicolon header, commas in data", "Call Time;Caller ID;Notes\n2024-01-01;555;a, b, c, d\n", ';'},
		{"tab header", "Call Time\tCaller ID\n2024-01-01\t555\n", '\t'},
		{"title line above header", "Calls; March; West; Region\nCall Time|Caller ID\n2024-01-01|555\n", '|'},
		{"crlf header", "Call Time;Caller ID\r\n2024-01-01;555\r\n", ';'},
		{"no header scores first line", "a;b;c\nx,y\n", ';'},
		{"no signal", "single\n", ','},
		{"empty", "", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectFromText(tt.text))
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
	}{
		{"a,b,c", ','},
		{"a;b;c", ';'},
		{"a\tb\tc", '\t'},
		{"a|b|c", '|'},
		{`"a;b;c",d`, ','},
		{"single", ','},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectDelimiter(tt.line), tt.line)
	}
}
