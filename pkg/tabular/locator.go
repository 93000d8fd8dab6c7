package tabular

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
)

// AnyColumn makes a Signature match a cell in any column.
const AnyColumn = -1

// Col converts a spreadsheet column letter ("A", "K", "AB") to a zero-based
// index. Invalid names return AnyColumn.
func Col(name string) int {
	n, err := excelize.ColumnNameToNumber(strings.TrimSpace(name))
	if err != nil {
		return AnyColumn
	}
	return n - 1
}

// Signature recognizes a header row: a cell in Column whose trimmed text
// contains Contains, compared case-insensitively.
type Signature struct {
	Column   int
	Contains string
}

// Match reports whether the row satisfies the signature.
func (s Signature) Match(r Row) bool {
	needle := strings.ToLower(strings.TrimSpace(s.Contains))
	if needle == "" {
		return false
	}
	if s.Column != AnyColumn {
		return strings.Contains(strings.ToLower(r.Cell(s.Column)), needle)
	}
	for i := range r {
		if strings.Contains(strings.ToLower(r.Cell(i)), needle) {
			return true
		}
	}
	return false
}

func (s Signature) String() string {
	if s.Column == AnyColumn {
		return fmt.Sprintf("any column contains %q", s.Contains)
	}
	return fmt.Sprintf("column %d contains %q", s.Column, s.Contains)
}

// RowFilter reports whether a data row should be skipped.
type RowFilter func(Row) bool

// Locator finds the data table inside a sheet.
type Locator struct {
	// Signatures identify the header row; any one matching is enough.
	Signatures []Signature

	// SkipRow rejects non-data rows below the header such as section
	// dividers and totals. May be nil.
	SkipRow RowFilter
}

// FindHeader scans from the top and returns the index of the first row
// matching any signature. It returns an error wrapping ErrHeaderNotFound
// when nothing matches.
func (l Locator) FindHeader(rows []Row) (int, error) {
	for i, r := range rows {
		for _, sig := range l.Signatures {
			if sig.Match(r) {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: no row matched %d signature(s)", recerrors.ErrHeaderNotFound, len(l.Signatures))
}

// Locate finds the header and returns it together with the data rows below it.
func (l Locator) Locate(rows []Row) (Row, []IndexedRow, error) {
	idx, err := l.FindHeader(rows)
	if err != nil {
		return nil, nil, err
	}
	return rows[idx], DataRows(rows, idx, l.SkipRow), nil
}

// IndexedRow is a data row with its position in the source and the most
// recent section label seen above it.
type IndexedRow struct {
	Index   int
	Row     Row
	Section string
}

// DataRows returns the rows after headerIdx, dropping blank rows and rows
// the filter rejects. A rejected row holding a single label becomes the
// Section of the rows that follow it.
func DataRows(rows []Row, headerIdx int, filter RowFilter) []IndexedRow {
	var (
		out     []IndexedRow
		section string
	)
	for i := headerIdx + 1; i < len(rows); i++ {
		r := rows[i]
		if r.IsBlank() {
			continue
		}
		if filter != nil && filter(r) {
			if label, ok := SectionLabel(r); ok {
				section = label
			}
			continue
		}
		out = append(out, IndexedRow{Index: i, Row: r, Section: section})
	}
	return out
}

// SectionLabel returns the text of a row whose only non-blank cell is a label.
func SectionLabel(r Row) (string, bool) {
	label := ""
	for i := range r {
		c := r.Cell(i)
		if c == "" {
			continue
		}
		if label != "" {
			return "", false
		}
		label = c
	}
	return label, label != ""
}

// SectionFilter skips rows whose only non-blank cell equals one of labels,
// compared case-insensitively.
func SectionFilter(labels ...string) RowFilter {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return func(r Row) bool {
		label, ok := SectionLabel(r)
		return ok && set[strings.ToLower(label)]
	}
}

// TotalsFilter skips summary rows whose first non-blank cell starts with "Total".
func TotalsFilter() RowFilter {
	return func(r Row) bool {
		for i := range r {
			if c := r.Cell(i); c != "" {
				return strings.HasPrefix(strings.ToLower(c), "total")
			}
		}
		return false
	}
}

// AnyOf combines filters; a row is skipped when any filter skips it.
func AnyOf(filters ...RowFilter) RowFilter {
	return func(r Row) bool {
		for _, f := range filters {
			if f != nil && f(r) {
				return true
			}
		}
		return false
	}
}
