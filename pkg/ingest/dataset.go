// Package ingest imports spreadsheet exports into the reconciled store.
package ingest

import (
	"fmt"
	"sort"
	"strings"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/tabular"
)

// NameColumn is the field holding the entity name in entity datasets.
const NameColumn = "name"

// Field binds a logical column of the target table to header aliases.
type Field struct {
	// Column is the target column. Reference columns take an entity name.
	Column string

	// Aliases are candidate header texts, most specific first.
	Aliases []string

	// Legacy is the column letter used when no alias matches the header.
	Legacy string

	// Of names the reference column whose entity this field describes.
	// Such fields are merged into that entity, not into the fact.
	Of string

	// Default is the raw value used when the cell is blank.
	Default string

	// Fallback is a text column that receives the raw cell when it does
	// not parse, such as "May-23" in a date column.
	Fallback string
}

// Dataset declares how one kind of export maps onto the store.
type Dataset struct {
	Name        string
	Description string

	// Table is the fact table written by fact datasets.
	Table string

	// Entity is the kind written by entity datasets. Entity datasets
	// create their entity on a miss.
	Entity schema.Kind

	Signatures []tabular.Signature

	// Sections are divider labels below the header. They are skipped as
	// data and remembered as the section of the rows that follow.
	Sections []string

	// SectionValues are candidate values applied to rows under a section,
	// keyed by lower-cased label. Cells in the row take precedence.
	SectionValues map[string]store.Row

	Fields []Field
}

// IsEntity reports whether d writes entity attributes rather than facts.
func (d Dataset) IsEntity() bool {
	return d.Entity != ""
}

// Locator returns the region locator for d.
func (d Dataset) Locator() tabular.Locator {
	skip := tabular.TotalsFilter()
	if len(d.Sections) > 0 {
		skip = tabular.AnyOf(tabular.SectionFilter(d.Sections...), skip)
	}
	return tabular.Locator{Signatures: d.Signatures, SkipRow: skip}
}

// FieldSpecs returns the column-mapping specs for d.
func (d Dataset) FieldSpecs() []tabular.FieldSpec {
	specs := make([]tabular.FieldSpec, len(d.Fields))
	for i, f := range d.Fields {
		specs[i] = tabular.FieldSpec{
			Name:         f.key(),
			Aliases:      f.Aliases,
			LegacyColumn: f.Legacy,
		}
	}
	return specs
}

// Field returns the field bound to column.
func (d Dataset) Field(column string) (Field, bool) {
	for _, f := range d.Fields {
		if f.key() == column {
			return f, true
		}
	}
	return Field{}, false
}

func (f Field) key() string {
	if f.Of != "" {
		return f.Of + "." + f.Column
	}
	return f.Column
}

// WithAliases returns a copy of d whose fields accept extra header aliases.
// Extra aliases are tried before the built-in ones.
func (d Dataset) WithAliases(extra map[string][]string) Dataset {
	if len(extra) == 0 {
		return d
	}
	out := d
	out.Fields = make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		if more := extra[f.key()]; len(more) > 0 {
			f.Aliases = append(append([]string(nil), more...), f.Aliases...)
		}
		out.Fields[i] = f
	}
	return out
}

// Validate checks d against the catalog.
func (d Dataset) Validate(c *schema.Catalog) error {
	if d.Name == "" {
		return fmt.Errorf("dataset without a name: %w", recerrors.ErrValidation)
	}
	if len(d.Signatures) == 0 {
		return fmt.Errorf("dataset %s: no header signatures: %w", d.Name, recerrors.ErrValidation)
	}
	if (d.Table == "") == (d.Entity == "") {
		return fmt.Errorf("dataset %s: exactly one of table or entity must be set: %w", d.Name, recerrors.ErrValidation)
	}

	seen := map[string]bool{}
	for _, f := range d.Fields {
		if seen[f.key()] {
			return fmt.Errorf("dataset %s: duplicate field %s: %w", d.Name, f.key(), recerrors.ErrValidation)
		}
		seen[f.key()] = true
	}

	if d.IsEntity() {
		et, ok := c.Entity(d.Entity)
		if !ok {
			return fmt.Errorf("dataset %s: unknown entity kind %q: %w", d.Name, d.Entity, recerrors.ErrValidation)
		}
		if !seen[NameColumn] {
			return fmt.Errorf("dataset %s: no %s field: %w", d.Name, NameColumn, recerrors.ErrValidation)
		}
		for _, f := range d.Fields {
			if f.Of != "" {
				return fmt.Errorf("dataset %s: entity datasets cannot describe referenced entities: %w", d.Name, recerrors.ErrValidation)
			}
			if f.Column == NameColumn {
				continue
			}
			if _, ok := et.Column(f.Column); !ok {
				return fmt.Errorf("dataset %s: %s has no column %s: %w", d.Name, et.Table, f.Column, recerrors.ErrValidation)
			}
		}
		return nil
	}

	ft, ok := c.Fact(d.Table)
	if !ok {
		return fmt.Errorf("dataset %s: unknown fact table %q: %w", d.Name, d.Table, recerrors.ErrValidation)
	}
	if !seen[ft.Owner.Column] {
		return fmt.Errorf("dataset %s: owner column %s is not mapped: %w", d.Name, ft.Owner.Column, recerrors.ErrValidation)
	}
	for _, f := range d.Fields {
		if f.Of != "" {
			kind, ok := referenceKind(ft, f.Of)
			if !ok {
				return fmt.Errorf("dataset %s: %s is not a reference column: %w", d.Name, f.Of, recerrors.ErrValidation)
			}
			et, _ := c.Entity(kind)
			if _, ok := et.Column(f.Column); !ok {
				return fmt.Errorf("dataset %s: %s has no column %s: %w", d.Name, et.Table, f.Column, recerrors.ErrValidation)
			}
			continue
		}
		if _, ok := ft.Column(f.Column); !ok {
			return fmt.Errorf("dataset %s: %s has no column %s: %w", d.Name, ft.Name, f.Column, recerrors.ErrValidation)
		}
		if f.Fallback != "" {
			if _, ok := ft.Column(f.Fallback); !ok {
				return fmt.Errorf("dataset %s: %s has no fallback column %s: %w", d.Name, ft.Name, f.Fallback, recerrors.ErrValidation)
			}
		}
	}
	return nil
}

func referenceKind(t schema.FactTable, column string) (schema.Kind, bool) {
	for _, r := range t.References {
		if r.Column == column {
			return r.Kind, true
		}
	}
	return "", false
}

// Registry holds the datasets known to the importer.
type Registry struct {
	datasets map[string]Dataset
}

// NewRegistry validates and indexes datasets.
func NewRegistry(c *schema.Catalog, datasets ...Dataset) (*Registry, error) {
	r := &Registry{datasets: make(map[string]Dataset, len(datasets))}
	for _, d := range datasets {
		if err := d.Validate(c); err != nil {
			return nil, err
		}
		if _, dup := r.datasets[d.Name]; dup {
			return nil, fmt.Errorf("dataset %s declared twice: %w", d.Name, recerrors.ErrValidation)
		}
		r.datasets[d.Name] = d
	}
	return r, nil
}

// DefaultRegistry returns the built-in datasets with extra header aliases
// applied. aliases is keyed by dataset name, then field.
func DefaultRegistry(aliases map[string]map[string][]string) (*Registry, error) {
	builtin := Builtin()
	for i, d := range builtin {
		builtin[i] = d.WithAliases(aliases[d.Name])
	}
	return NewRegistry(schema.Default(), builtin...)
}

// Lookup returns the dataset called name. Hyphens and case are ignored.
func (r *Registry) Lookup(name string) (Dataset, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	d, ok := r.datasets[key]
	if !ok {
		return Dataset{}, fmt.Errorf("dataset %q: %w", name, recerrors.ErrNotFound)
	}
	return d, nil
}

// All returns the datasets sorted by name.
func (r *Registry) All() []Dataset {
	out := make([]Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
