// Package schema is the declarative catalog of entity and fact tables the
// reconciliation engine writes to. Store implementations generate their
// statements from it, and the merge engine reads per-column write policies.
package schema

import (
	"fmt"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
)

// Kind names a canonical entity type. Each kind has its own name
// uniqueness scope.
type Kind string

const (
	KindProject       Kind = "project"
	KindBank          Kind = "bank"
	KindPerson        Kind = "person"
	KindEquityPartner Kind = "equity_partner"
)

// Kinds lists every entity kind in catalog order.
var Kinds = []Kind{KindProject, KindBank, KindPerson, KindEquityPartner}

// ParseKind accepts a kind name or its plural table name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == string(k) || s == Default().MustEntity(k).Table {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Policy decides whether a candidate value replaces a stored one.
type Policy int

const (
	// Overwrite writes any non-absent value that differs from the stored one.
	Overwrite Policy = iota
	// FillIfBlank writes only when the stored value is absent or blank.
	FillIfBlank
	// PriorityGated writes only when the candidate ranks above the stored
	// value in a configured order.
	PriorityGated
)

func (p Policy) String() string {
	switch p {
	case FillIfBlank:
		return "fill-if-blank"
	case PriorityGated:
		return "priority-gated"
	default:
		return "overwrite"
	}
}

// Column is one typed attribute column.
type Column struct {
	Name   string
	Kind   normalize.Kind
	Policy Policy
}

// SQLType returns the Postgres type used for the column.
func (c Column) SQLType() string {
	switch c.Kind {
	case normalize.KindAmount:
		return "numeric"
	case normalize.KindDate:
		return "date"
	case normalize.KindInteger:
		return "bigint"
	default:
		return "text"
	}
}

// Reference is a fact column holding the ID of an entity.
type Reference struct {
	Column string
	Kind   Kind
}

// EntityTable describes a canonical entity. Every entity table also has
// id, name and normalized_name columns.
type EntityTable struct {
	Kind    Kind
	Table   string
	Columns []Column
}

// FactTable describes a dependent fact table upserted by natural key.
type FactTable struct {
	Name       string
	Table      string
	Columns    []Column
	NaturalKey []string

	// Owner is the reference that must resolve before the fact is written.
	Owner Reference

	// References lists every entity reference column, the owner included.
	References []Reference
}

func lookupColumn(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Column returns the named attribute column.
func (t EntityTable) Column(name string) (Column, bool) { return lookupColumn(t.Columns, name) }

// Column returns the named column.
func (t FactTable) Column(name string) (Column, bool) { return lookupColumn(t.Columns, name) }

// IsKey reports whether the column is part of the natural key.
func (t FactTable) IsKey(name string) bool {
	for _, k := range t.NaturalKey {
		if k == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in declaration order.
func (t FactTable) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnNames returns the attribute column names in declaration order.
func (t EntityTable) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// FactReference locates one reference column in one fact table.
type FactReference struct {
	Fact   FactTable
	Column string
}

// Catalog is the set of tables known to the engine.
type Catalog struct {
	entities []EntityTable
	facts    []FactTable
}

// NewCatalog builds a catalog. Fact owners must reference known kinds.
func NewCatalog(entities []EntityTable, facts []FactTable) (*Catalog, error) {
	known := make(map[Kind]bool, len(entities))
	for _, e := range entities {
		known[e.Kind] = true
	}
	for _, f := range facts {
		if len(f.NaturalKey) == 0 {
			return nil, fmt.Errorf("fact table %s has no natural key", f.Name)
		}
		for _, k := range f.NaturalKey {
			if _, ok := f.Column(k); !ok {
				return nil, fmt.Errorf("fact table %s: natural key column %s not declared", f.Name, k)
			}
		}
		for _, r := range f.References {
			if !known[r.Kind] {
				return nil, fmt.Errorf("fact table %s references unknown kind %s", f.Name, r.Kind)
			}
		}
		if !known[f.Owner.Kind] {
			return nil, fmt.Errorf("fact table %s owned by unknown kind %s", f.Name, f.Owner.Kind)
		}
	}
	return &Catalog{entities: entities, facts: facts}, nil
}

// Entities returns every entity table.
func (c *Catalog) Entities() []EntityTable { return c.entities }

// Facts returns every fact table.
func (c *Catalog) Facts() []FactTable { return c.facts }

// Entity returns the table for kind.
func (c *Catalog) Entity(kind Kind) (EntityTable, bool) {
	for _, e := range c.entities {
		if e.Kind == kind {
			return e, true
		}
	}
	return EntityTable{}, false
}

// MustEntity is Entity for kinds known to be in the catalog.
func (c *Catalog) MustEntity(kind Kind) EntityTable {
	e, ok := c.Entity(kind)
	if !ok {
		panic(fmt.Sprintf("schema: unknown entity kind %q", kind))
	}
	return e
}

// Fact returns the fact table with the given name.
func (c *Catalog) Fact(name string) (FactTable, bool) {
	for _, f := range c.facts {
		if f.Name == name {
			return f, true
		}
	}
	return FactTable{}, false
}

// ReferencesTo lists every fact column that points at entities of kind.
func (c *Catalog) ReferencesTo(kind Kind) []FactReference {
	var out []FactReference
	for _, f := range c.facts {
		for _, r := range f.References {
			if r.Kind == kind {
				out = append(out, FactReference{Fact: f, Column: r.Column})
			}
		}
	}
	return out
}
