// Package tabular reads spreadsheet exports into rows and locates the data
// table embedded in them.
package tabular

import (
	"strings"
)

// Row is one physical row of input. Field counts vary between rows.
type Row []string

// Cell returns the trimmed cell at index i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// IsBlank reports whether every cell is empty after trimming.
func (r Row) IsBlank() bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Options controls tokenization.
type Options struct {
	// Delimiter separates fields. Defaults to ','.
	Delimiter rune

	// Terminator separates rows. Defaults to '\n'. Line endings are
	// normalized to '\n' before scanning.
	Terminator rune
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Terminator == 0 {
		o.Terminator = '\n'
	}
	return o
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Tokenize splits text into rows of fields.
//
// A double quote opens a quoted field; inside it delimiters and terminators
// are literal and "" is a literal quote. A quote in the middle of an
// unquoted field is literal text. An unterminated quote at end of input
// flushes the pending field and row as-is. A trailing terminator does not
// produce an extra empty row.
func Tokenize(text string, opts Options) []Row {
	opts = opts.withDefaults()
	text = lineEndings.Replace(text)

	var (
		rows     []Row
		row      Row
		field    strings.Builder
		inQuotes bool
		quoted   bool
		pending  bool
	)

	endField := func() {
		row = append(row, field.String())
		field.Reset()
		quoted = false
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					field.WriteRune('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				field.WriteRune(c)
			}
			continue
		}

		switch {
		case c == '"' && field.Len() == 0 && !quoted:
			inQuotes = true
			quoted = true
			pending = true
		case c == opts.Delimiter:
			endField()
			pending = true
		case c == opts.Terminator:
			endField()
			rows = append(rows, row)
			row = nil
			pending = false
		default:
			field.WriteRune(c)
			pending = true
		}
	}

	if pending {
		endField()
		rows = append(rows, row)
	}
	return rows
}

// DetectDelimiter picks tab when the first non-blank line contains a tab,
// otherwise comma. Paste blocks copied out of a spreadsheet are tab-separated.
func DetectDelimiter(text string) rune {
	for _, line := range strings.Split(lineEndings.Replace(text), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.ContainsRune(line, '\t') {
			return '\t'
		}
		return ','
	}
	return ','
}
