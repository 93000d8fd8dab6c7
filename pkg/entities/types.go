// Package entities resolves free-text names from spreadsheets to canonical
// entity IDs.
package entities

import (
	"fmt"
	"strings"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// Kind is an entity kind; see schema.Kind.
type Kind = schema.Kind

const (
	KindProject       = schema.KindProject
	KindBank          = schema.KindBank
	KindPerson        = schema.KindPerson
	KindEquityPartner = schema.KindEquityPartner
)

// MatchMode is the loosest name comparison a policy allows.
type MatchMode = store.MatchMode

const (
	MatchExact           = store.MatchExact
	MatchCaseInsensitive = store.MatchCaseInsensitive
	MatchContains        = store.MatchContains
)

// MissPolicy decides what happens when no entity matches.
type MissPolicy int

const (
	// StrictLookup reports a miss; the caller skips the dependent fact.
	StrictLookup MissPolicy = iota
	// CreateIfMissing inserts a minimal entity named as given.
	CreateIfMissing
)

func (p MissPolicy) String() string {
	if p == CreateIfMissing {
		return "create"
	}
	return "strict"
}

// ParseMissPolicy parses "strict" or "create".
func ParseMissPolicy(s string) (MissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "strict_lookup", "":
		return StrictLookup, nil
	case "create", "create_if_missing":
		return CreateIfMissing, nil
	default:
		return StrictLookup, fmt.Errorf("unknown miss policy %q", s)
	}
}

// ParseMatchMode parses "exact", "case_insensitive" or "contains".
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return MatchExact, nil
	case "case_insensitive", "case-insensitive", "":
		return MatchCaseInsensitive, nil
	case "contains":
		return MatchContains, nil
	default:
		return MatchExact, fmt.Errorf("unknown match mode %q", s)
	}
}

// Policy is the resolution policy for one entity kind.
type Policy struct {
	OnMiss MissPolicy
	Match  MatchMode
}

// DefaultPolicies creates banks, persons and equity partners on first sight
// and requires projects to exist already.
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		KindProject:       {OnMiss: StrictLookup, Match: MatchCaseInsensitive},
		KindBank:          {OnMiss: CreateIfMissing, Match: MatchCaseInsensitive},
		KindPerson:        {OnMiss: CreateIfMissing, Match: MatchCaseInsensitive},
		KindEquityPartner: {OnMiss: CreateIfMissing, Match: MatchCaseInsensitive},
	}
}

// Source records how a reference was resolved.
type Source string

const (
	SourceCache           Source = "cache"
	SourceExact           Source = "exact"
	SourceCaseInsensitive Source = "case_insensitive"
	SourceContains        Source = "contains"
	SourceCreated         Source = "created"
	SourceRetry           Source = "conflict_retry"
	SourceMiss            Source = "miss"
)

// Ref is the result of resolving one name.
type Ref struct {
	Kind    Kind
	ID      int64
	Name    string
	Found   bool
	Created bool
	Source  Source
}

// Value returns the reference as a fact column value, absent when unresolved.
func (r Ref) Value() normalize.Value {
	if !r.Found {
		return normalize.Absent()
	}
	return normalize.IntegerOf(r.ID)
}

// NormalizeName returns the uniqueness key of a name within its kind.
func NormalizeName(s string) string {
	return normalize.FoldName(s)
}

// Corrections maps misspelled names to their canonical spelling per kind.
// Keys are matched after normalization.
type Corrections map[Kind]map[string]string

// Apply returns the corrected spelling of name, or name unchanged.
func (c Corrections) Apply(kind Kind, name string) string {
	key := NormalizeName(name)
	for wrong, right := range c[kind] {
		if NormalizeName(wrong) == key {
			return right
		}
	}
	return name
}
