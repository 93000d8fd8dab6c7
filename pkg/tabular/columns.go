package tabular

import (
	"strings"
)

// FieldSpec describes one logical field of a dataset and the header texts
// it may appear under.
type FieldSpec struct {
	Name string

	// Aliases are candidate header texts in priority order.
	Aliases []string

	// LegacyColumn is the spreadsheet column letter used when no alias
	// matches the header. Empty means the field is unmapped in that case.
	LegacyColumn string
}

// ColumnMap maps logical field names to zero-based column indexes.
type ColumnMap map[string]int

// MapColumns resolves each field to a header column. Exact matches (trimmed,
// case-insensitive) are tried for every alias first, then containment.
// Within a pass the first alias that matches wins, and a column claimed by
// an exact match is not reused by a containment match. Legacy columns are
// applied last, only to fields still unmapped and only when no other field
// claimed that column. No two fields share a column.
func MapColumns(header Row, specs []FieldSpec) ColumnMap {
	cells := make([]string, len(header))
	for i := range header {
		cells[i] = strings.ToLower(header.Cell(i))
	}

	m := make(ColumnMap, len(specs))
	claimed := make(map[int]bool)

	for _, spec := range specs {
		if idx := findAlias(cells, spec.Aliases, claimed, exactMatch); idx >= 0 {
			m[spec.Name] = idx
			claimed[idx] = true
		}
	}
	for _, spec := range specs {
		if _, ok := m[spec.Name]; ok {
			continue
		}
		if idx := findAlias(cells, spec.Aliases, claimed, containsMatch); idx >= 0 {
			m[spec.Name] = idx
			claimed[idx] = true
		}
	}
	for _, spec := range specs {
		if _, ok := m[spec.Name]; ok || spec.LegacyColumn == "" {
			continue
		}
		if idx := Col(spec.LegacyColumn); idx >= 0 && !claimed[idx] {
			m[spec.Name] = idx
			claimed[idx] = true
		}
	}
	return m
}

func exactMatch(cell, alias string) bool    { return cell == alias }
func containsMatch(cell, alias string) bool { return strings.Contains(cell, alias) }

func findAlias(cells, aliases []string, claimed map[int]bool, match func(cell, alias string) bool) int {
	for _, a := range aliases {
		alias := strings.ToLower(strings.TrimSpace(a))
		if alias == "" {
			continue
		}
		for i, c := range cells {
			if c == "" || claimed[i] {
				continue
			}
			if match(c, alias) {
				return i
			}
		}
	}
	return -1
}

// Index returns the column for a field, or -1 when unmapped.
func (m ColumnMap) Index(name string) int {
	if idx, ok := m[name]; ok {
		return idx
	}
	return -1
}

// Value returns the trimmed cell for a field. The bool is false when the
// field is unmapped; a short row yields "" with true.
func (m ColumnMap) Value(r Row, name string) (string, bool) {
	idx, ok := m[name]
	if !ok {
		return "", false
	}
	return r.Cell(idx), true
}
