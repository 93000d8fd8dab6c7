// Package store defines the persistence boundary of the reconciliation
// engine. The engine only needs name lookup, keyed fact lookup, row-level
// insert/update/delete and a transaction scope; pkg/store/postgres and
// pkg/store/memstore provide them.
package store

import (
	"context"
	"sort"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
)

// Row maps column names to canonical values. Missing columns read as absent.
type Row map[string]normalize.Value

// Get returns the value for col, absent when unset.
func (r Row) Get(col string) normalize.Value {
	if r == nil {
		return normalize.Absent()
	}
	return r[col]
}

// ID returns an integer reference column.
func (r Row) ID(col string) (int64, bool) {
	return r.Get(col).Integer()
}

// Clone returns a shallow copy; values are immutable.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Present returns a copy without absent values.
func (r Row) Present() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if !v.IsAbsent() {
			out[k] = v
		}
	}
	return out
}

// Columns returns the column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Entity is a canonical, uniquely named business object.
type Entity struct {
	Kind   schema.Kind
	ID     int64
	Name   string
	Fields Row
}

// Fact is one row of a dependent fact table.
type Fact struct {
	Table  string
	ID     int64
	Fields Row
}

// MatchMode selects how FindEntities compares names.
type MatchMode int

const (
	// MatchExact compares the stored display name byte for byte.
	MatchExact MatchMode = iota
	// MatchCaseInsensitive compares folded names.
	MatchCaseInsensitive
	// MatchContains finds folded names containing the query or contained by it.
	MatchContains
)

func (m MatchMode) String() string {
	switch m {
	case MatchCaseInsensitive:
		return "case-insensitive"
	case MatchContains:
		return "contains"
	default:
		return "exact"
	}
}

// Store is the persistence boundary. Entity names are unique per kind as
// trimmed and spelled, so case variants can coexist until collapsed.
// Uniqueness violations surface as
// errors wrapping recerrors.ErrConflict and missing rows as
// recerrors.ErrNotFound. Results are ordered by ID.
type Store interface {
	FindEntities(ctx context.Context, kind schema.Kind, name string, mode MatchMode) ([]Entity, error)
	CreateEntity(ctx context.Context, kind schema.Kind, name string, fields Row) (Entity, error)
	GetEntity(ctx context.Context, kind schema.Kind, id int64) (Entity, error)
	ListEntities(ctx context.Context, kind schema.Kind) ([]Entity, error)
	UpdateEntity(ctx context.Context, kind schema.Kind, id int64, fields Row) error
	DeleteEntity(ctx context.Context, kind schema.Kind, id int64) error

	// FindFact returns nil, nil when no row has the natural key.
	FindFact(ctx context.Context, table string, key Row) (*Fact, error)
	InsertFact(ctx context.Context, table string, fields Row) (Fact, error)
	UpdateFact(ctx context.Context, table string, id int64, fields Row) error
	DeleteFact(ctx context.Context, table string, id int64) error

	// ListFacts returns rows whose columns equal every value in filter.
	ListFacts(ctx context.Context, table string, filter Row) ([]Fact, error)

	// WithTx runs fn against a transactional view of the store. Any error
	// returned by fn rolls back every write fn made.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// NaturalKey extracts the natural key columns of a fact row. The bool is
// false when any key column is absent.
func NaturalKey(t schema.FactTable, fields Row) (Row, bool) {
	key := make(Row, len(t.NaturalKey))
	for _, col := range t.NaturalKey {
		v := fields.Get(col)
		if v.IsAbsent() {
			return nil, false
		}
		key[col] = v
	}
	return key, true
}
