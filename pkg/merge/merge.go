// Package merge folds candidate values into stored entities and fact
// records without clobbering better data.
//
// Every column has a write policy: fill-if-blank, priority-gated (project
// stage) or overwrite. Absent candidates never write and equal values never
// produce a write, so re-importing identical data changes nothing.
package merge

import (
	"context"
	"fmt"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// Policy is a column write policy; see schema.Policy.
type Policy = schema.Policy

const (
	Overwrite     = schema.Overwrite
	FillIfBlank   = schema.FillIfBlank
	PriorityGated = schema.PriorityGated
)

// Outcome reports what an upsert did.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Rules maps column names to write policies. Unlisted columns overwrite.
type Rules map[string]Policy

// RulesFor returns the declared policy of every column.
func RulesFor(cols []schema.Column) Rules {
	r := make(Rules, len(cols))
	for _, c := range cols {
		r[c.Name] = c.Policy
	}
	return r
}

// FillRules makes every column fill-if-blank, the policy used when
// collapsing duplicates.
func FillRules(cols []schema.Column) Rules {
	r := make(Rules, len(cols))
	for _, c := range cols {
		r[c.Name] = FillIfBlank
	}
	return r
}

// Option adjusts a single merge call.
type Option func(*options)

type options struct {
	overwrite []string
}

// WithOverwrite forces the named columns to overwrite. It is meant for
// explicit administrative corrections.
func WithOverwrite(columns ...string) Option {
	return func(o *options) {
		o.overwrite = append(o.overwrite, columns...)
	}
}

func (r Rules) with(opts []Option) Rules {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.overwrite) == 0 {
		return r
	}
	out := make(Rules, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, c := range o.overwrite {
		out[c] = Overwrite
	}
	return out
}

// Engine applies write policies against a store.
type Engine struct {
	store   store.Store
	catalog *schema.Catalog
	stages  *StageOrder
	logger  logging.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithStageOrder sets the stage order used for priority-gated columns.
func WithStageOrder(o *StageOrder) EngineOption {
	return func(e *Engine) {
		e.stages = o
	}
}

// WithCatalog sets the table catalog.
func WithCatalog(c *schema.Catalog) EngineOption {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a merge engine over s.
func NewEngine(s store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   s,
		catalog: schema.Default(),
		stages:  DefaultStageOrder(),
		logger:  logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Component("merge_engine"))
	return e
}

// WithStore returns a copy of the engine writing to s, typically a
// transaction.
func (e *Engine) WithStore(s store.Store) *Engine {
	c := *e
	c.store = s
	return &c
}

// Stages returns the engine's stage order.
func (e *Engine) Stages() *StageOrder { return e.stages }

// MergeFields returns the subset of candidate that should be written over
// current. It does not touch the store.
func (e *Engine) MergeFields(current, candidate store.Row, rules Rules) store.Row {
	write := store.Row{}
	for col, cand := range candidate {
		if cand.IsAbsent() {
			continue
		}
		policy := rules[col]
		if policy == PriorityGated {
			cand = normalize.TextOf(e.stages.Canonical(cand.String()))
		}
		cur := current.Get(col)
		if cand.Equal(cur) {
			continue
		}

		switch policy {
		case FillIfBlank:
			if cur.IsBlank() {
				write[col] = cand
			}
		case PriorityGated:
			if e.stages.Accept(cur.String(), cand.String()) {
				write[col] = cand
			}
		default:
			write[col] = cand
		}
	}
	return write
}

// MergeEntity merges candidate attributes into entity id of kind.
func (e *Engine) MergeEntity(ctx context.Context, kind schema.Kind, id int64, candidate store.Row, opts ...Option) (Outcome, error) {
	t, ok := e.catalog.Entity(kind)
	if !ok {
		return Unchanged, fmt.Errorf("merge: unknown entity kind %q: %w", kind, recerrors.ErrValidation)
	}
	ent, err := e.store.GetEntity(ctx, kind, id)
	if err != nil {
		return Unchanged, fmt.Errorf("merge %s %d: %w", kind, id, err)
	}

	write := e.MergeFields(ent.Fields, candidate, RulesFor(t.Columns).with(opts))
	if len(write) == 0 {
		return Unchanged, nil
	}
	if err := e.store.UpdateEntity(ctx, kind, id, write); err != nil {
		return Unchanged, fmt.Errorf("merge %s %d: %w", kind, id, err)
	}

	e.logger.Debug("Entity updated",
		logging.F("kind", string(kind)),
		logging.F("id", id),
		logging.F("columns", write.Columns()))
	return Updated, nil
}

// UpsertFact inserts row into table or merges it into the record with the
// same natural key. Rows without their owning entity are refused with
// ErrOwnerMissing.
func (e *Engine) UpsertFact(ctx context.Context, table string, row store.Row, opts ...Option) (Outcome, error) {
	t, ok := e.catalog.Fact(table)
	if !ok {
		return Unchanged, fmt.Errorf("upsert: unknown fact table %q: %w", table, recerrors.ErrValidation)
	}
	if _, ok := row.ID(t.Owner.Column); !ok {
		return Unchanged, fmt.Errorf("upsert %s: %s: %w", table, t.Owner.Column, recerrors.ErrOwnerMissing)
	}
	key, ok := store.NaturalKey(t, row)
	if !ok {
		return Unchanged, fmt.Errorf("upsert %s: incomplete natural key %v: %w", table, t.NaturalKey, recerrors.ErrValidation)
	}

	existing, err := e.store.FindFact(ctx, table, key)
	if err != nil {
		return Unchanged, fmt.Errorf("upsert %s: %w", table, err)
	}
	if existing == nil {
		_, err := e.store.InsertFact(ctx, table, row)
		if err == nil {
			return Created, nil
		}
		if !recerrors.IsConflict(err) {
			return Unchanged, fmt.Errorf("upsert %s: %w", table, err)
		}
		// Lost an insert race; merge into the row that won.
		existing, err = e.store.FindFact(ctx, table, key)
		if err != nil {
			return Unchanged, fmt.Errorf("upsert %s: %w", table, err)
		}
		if existing == nil {
			return Unchanged, fmt.Errorf("upsert %s: conflict without matching row: %w", table, recerrors.ErrConflict)
		}
	}

	candidate := row.Clone()
	for _, k := range t.NaturalKey {
		delete(candidate, k)
	}
	write := e.MergeFields(existing.Fields, candidate, RulesFor(t.Columns).with(opts))
	if len(write) == 0 {
		return Unchanged, nil
	}
	if err := e.store.UpdateFact(ctx, table, existing.ID, write); err != nil {
		return Unchanged, fmt.Errorf("upsert %s %d: %w", table, existing.ID, err)
	}
	return Updated, nil
}
