package ingest

import "strings"

// parser.go splits delimited text without encoding/csv. Call-center exports
// routinely contain stray quotes that csv.Reader rejects even with
// LazyQuotes, so quoting here is lenient by construction:
//   - "" inside a quoted field is one literal quote
//   - text after a closing quote is kept up to the next delimiter
//   - an unterminated quote runs to the end of the line

const quote = '"'

// candidateDelimiters are tried by DetectDelimiter in priority order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ParseLine splits one logical line into unescaped field values.
func ParseLine(line string, delim rune) []string {
	if delim == 0 {
		delim = ','
	}

	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
		atStart  = true
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inQuotes {
			if c == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					field.WriteRune(quote)
					i++
					continue
				}
				inQuotes = false
				continue
			}
			field.WriteRune(c)
			continue
		}

		switch {
		case c == delim:
			fields = append(fields, field.String())
			field.Reset()
			atStart = true
			continue
		case c == quote && atStart:
			inQuotes = true
		default:
			field.WriteRune(c)
		}
		atStart = false
	}

	return append(fields, field.String())
}

// SplitLines splits text into logical lines. A line break inside a quoted
// field belongs to that field; quotes open a field only at its start, the
// same rule ParseLine applies. Both LF and CRLF endings are accepted and a
// trailing line break does not produce an empty final line.
func SplitLines(text string, delim rune) []string {
	if delim == 0 {
		delim = ','
	}
	d := string(delim)

	var (
		lines    []string
		start    int
		inQuotes bool
		atStart  = true
	)

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inQuotes {
			if c == quote {
				if i+1 < len(text) && text[i+1] == quote {
					i++
					continue
				}
				inQuotes = false
			}
			continue
		}

		switch {
		case c == '\n':
			end := i
			if end > start && text[end-1] == '\r' {
				end--
			}
			lines = append(lines, text[start:end])
			start = i + 1
			atStart = true
		case c == d[0] && strings.HasPrefix(text[i:], d):
			i += len(d) - 1
			atStart = true
		case c == quote && atStart:
			inQuotes = true
			atStart = false
		default:
			atStart = false
		}
	}

	if start < len(text) {
		lines = append(lines, strings.TrimSuffix(text[start:], "\r"))
	}
	return lines
}

// ParseRows parses every logical line of text. A zero delimiter is detected
// from the leading lines of text.
func ParseRows(text string, delim rune) [][]string {
	if delim == 0 {
		delim = detectFromText(text)
	}

	lines := SplitLines(text, delim)
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, ParseLine(line, delim))
	}
	return rows
}

// detectFromText finds the header line among the first MaxHeaderSearchRows
// non-blank lines: the first line that, split by some candidate delimiter,
// carries both required columns decides the delimiter. Data rows are never
// scored, so free-text cells cannot outvote the header. Without a
// recognizable header the first non-blank line is scored instead.
func detectFromText(text string) rune {
	var first string
	for seen := 0; text != "" && seen < MaxHeaderSearchRows; {
		line, rest, _ := strings.Cut(text, "\n")
		text = rest
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if seen == 0 {
			first = line
		}
		seen++
		for _, d := range candidateDelimiters {
			if NewMapper(ParseLine(line, d)).HasRequired() {
				return d
			}
		}
	}
	return DetectDelimiter(first)
}

// DetectDelimiter picks the candidate delimiter that occurs most often
// outside quotes in line. Ties go to the earlier candidate; no match
// yields ','.
func DetectDelimiter(line string) rune {
	d, _ := scoreDelimiter(line)
	return d
}

func scoreDelimiter(line string) (rune, int) {
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, c := range line {
		if c == quote {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[c]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best, bestCount
}

// isEmptyRow reports whether every cell is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
