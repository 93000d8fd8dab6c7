package normalize

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldName returns the uniqueness key for an entity name: trimmed, internal
// whitespace collapsed, Unicode case folded. "FIRST  Horizon Bank " and
// "first horizon bank" fold to the same key.
func FoldName(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
