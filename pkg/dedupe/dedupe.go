// Package dedupe collapses duplicate entities whose names differ only in case
// or spacing. The store keeps names unique as spelled, so such variants can
// accumulate from exact-match imports or older data.
package dedupe

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/otherjamesbrown/dealbook/pkg/entities"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/participation"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

const tracerName = "github.com/otherjamesbrown/dealbook/pkg/dedupe"

// Group is a set of entities sharing one normalized name.
type Group struct {
	Key        string
	Survivor   store.Entity
	Losers     []store.Entity
	Dependents map[int64]int
}

// Report summarizes a collapse.
type Report struct {
	Kind        schema.Kind
	DryRun      bool
	Groups      []Group
	Repointed   int
	MergedFacts int
	Deleted     int
	Recomputed  []int64
}

// Forgetter drops cached resolutions for a kind.
type Forgetter interface {
	Forget(kind entities.Kind)
}

// Collapser merges duplicate entities into a survivor.
type Collapser struct {
	store     store.Store
	catalog   *schema.Catalog
	engine    *merge.Engine
	shares    *participation.Normalizer
	forgetter Forgetter
	logger    logging.Logger
}

// Option configures the collapser.
type Option func(*Collapser)

// WithCatalog sets the table catalog.
func WithCatalog(c *schema.Catalog) Option {
	return func(col *Collapser) {
		col.catalog = c
	}
}

// WithParticipationNormalizer recomputes shares of projects whose
// participations were touched.
func WithParticipationNormalizer(n *participation.Normalizer) Option {
	return func(c *Collapser) {
		c.shares = n
	}
}

// WithForgetter invalidates a resolver cache after collapsing.
func WithForgetter(f Forgetter) Option {
	return func(c *Collapser) {
		c.forgetter = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Collapser) {
		c.logger = logger
	}
}

// NewCollapser creates a collapser. The merge engine supplies fill-if-blank
// merging of attributes.
func NewCollapser(s store.Store, engine *merge.Engine, opts ...Option) *Collapser {
	c := &Collapser{
		store:   s,
		catalog: schema.Default(),
		engine:  engine,
		logger:  logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("duplicate_collapser"))
	return c
}

// Plan finds duplicate groups of kind and picks each survivor: the entity
// with the most dependent facts, ties going to the lowest ID.
func (c *Collapser) Plan(ctx context.Context, kind schema.Kind) ([]Group, error) {
	all, err := c.store.ListEntities(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s entities: %w", kind, err)
	}

	byKey := map[string][]store.Entity{}
	var keys []string
	for _, e := range all {
		k := normalize.FoldName(e.Name)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], e)
	}

	var groups []Group
	for _, k := range keys {
		members := byKey[k]
		if len(members) < 2 {
			continue
		}
		deps := make(map[int64]int, len(members))
		for _, m := range members {
			n, err := c.countDependents(ctx, kind, m.ID)
			if err != nil {
				return nil, err
			}
			deps[m.ID] = n
		}
		sort.SliceStable(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if deps[a.ID] != deps[b.ID] {
				return deps[a.ID] > deps[b.ID]
			}
			return a.ID < b.ID
		})
		losers := append([]store.Entity(nil), members[1:]...)
		sort.Slice(losers, func(i, j int) bool { return losers[i].ID < losers[j].ID })
		groups = append(groups, Group{
			Key:        k,
			Survivor:   members[0],
			Losers:     losers,
			Dependents: deps,
		})
	}
	return groups, nil
}

func (c *Collapser) countDependents(ctx context.Context, kind schema.Kind, id int64) (int, error) {
	total := 0
	for _, ref := range c.catalog.ReferencesTo(kind) {
		facts, err := c.store.ListFacts(ctx, ref.Fact.Name, store.Row{ref.Column: normalize.IntegerOf(id)})
		if err != nil {
			return 0, fmt.Errorf("counting %s.%s for %s %d: %w", ref.Fact.Name, ref.Column, kind, id, err)
		}
		total += len(facts)
	}
	return total, nil
}

// DryRun plans a collapse without writing.
func (c *Collapser) DryRun(ctx context.Context, kind schema.Kind) (Report, error) {
	groups, err := c.Plan(ctx, kind)
	if err != nil {
		return Report{}, err
	}
	return Report{Kind: kind, DryRun: true, Groups: groups}, nil
}

// CollapseDuplicates merges every duplicate group of kind. Each loser is
// handled in its own transaction, strictly ordered: dependents are
// repointed (or merged into the survivor's colliding fact), attributes are
// merged fill-if-blank, and the loser is deleted last.
func (c *Collapser) CollapseDuplicates(ctx context.Context, kind schema.Kind) (report Report, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dedupe.collapse")
	span.SetAttributes(attribute.String("kind", string(kind)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	groups, err := c.Plan(ctx, kind)
	if err != nil {
		return Report{}, err
	}
	report = Report{Kind: kind, Groups: groups}
	touched := map[int64]bool{}

	for _, g := range groups {
		survivor := g.Survivor
		for _, loser := range g.Losers {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			var stats collapseStats
			err := c.store.WithTx(ctx, func(tx store.Store) error {
				var txErr error
				stats, txErr = c.collapseOne(ctx, tx, kind, &survivor, loser)
				return txErr
			})
			if err != nil {
				return report, fmt.Errorf("collapsing %s %d into %d: %w", kind, loser.ID, survivor.ID, err)
			}
			report.Repointed += stats.repointed
			report.MergedFacts += stats.merged
			report.Deleted++
			for id := range stats.projects {
				touched[id] = true
			}

			c.logger.Info("Duplicate collapsed",
				logging.F("kind", string(kind)),
				logging.F("survivor_id", survivor.ID),
				logging.F("loser_id", loser.ID),
				logging.F("repointed", stats.repointed),
				logging.F("merged_facts", stats.merged))
		}
	}

	if c.forgetter != nil {
		c.forgetter.Forget(kind)
	}

	if c.shares != nil && len(touched) > 0 {
		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		results, err := c.shares.RecomputeProjects(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("recomputing participation shares: %w", err)
		}
		for _, r := range results {
			report.Recomputed = append(report.Recomputed, r.ProjectID)
		}
	}

	span.SetAttributes(
		attribute.Int("groups", len(groups)),
		attribute.Int("deleted", report.Deleted))
	return report, nil
}

type collapseStats struct {
	repointed int
	merged    int
	projects  map[int64]bool
}

// collapseOne moves everything from loser onto survivor inside tx.
// survivor.Fields is updated in place so later losers only fill what is
// still blank.
func (c *Collapser) collapseOne(ctx context.Context, tx store.Store, kind schema.Kind, survivor *store.Entity, loser store.Entity) (collapseStats, error) {
	stats := collapseStats{projects: map[int64]bool{}}
	survivorRef := normalize.IntegerOf(survivor.ID)

	for _, ref := range c.catalog.ReferencesTo(kind) {
		t := ref.Fact
		facts, err := tx.ListFacts(ctx, t.Name, store.Row{ref.Column: normalize.IntegerOf(loser.ID)})
		if err != nil {
			return stats, err
		}

		for _, f := range facts {
			moved := f.Fields.Clone()
			moved[ref.Column] = survivorRef

			if t.Name == participation.Table {
				if pid, ok := moved.ID("project_id"); ok {
					stats.projects[pid] = true
				}
			}

			if t.IsKey(ref.Column) {
				key, ok := store.NaturalKey(t, moved)
				if ok {
					existing, err := tx.FindFact(ctx, t.Name, key)
					if err != nil {
						return stats, err
					}
					if existing != nil && existing.ID != f.ID {
						candidate := f.Fields.Clone()
						for _, k := range t.NaturalKey {
							delete(candidate, k)
						}
						write := c.engine.MergeFields(existing.Fields, candidate, merge.FillRules(t.Columns))
						if t.Name == participation.Table {
							if sum, ok := combinedExposure(existing.Fields, f.Fields); ok {
								write["exposure"] = sum
							}
						}
						if len(write) > 0 {
							if err := tx.UpdateFact(ctx, t.Name, existing.ID, write); err != nil {
								return stats, err
							}
						}
						if err := tx.DeleteFact(ctx, t.Name, f.ID); err != nil {
							return stats, err
						}
						stats.merged++
						continue
					}
				}
			}

			if err := tx.UpdateFact(ctx, t.Name, f.ID, store.Row{ref.Column: survivorRef}); err != nil {
				return stats, err
			}
			stats.repointed++
		}
	}

	et, ok := c.catalog.Entity(kind)
	if !ok {
		return stats, fmt.Errorf("unknown entity kind %q", kind)
	}
	write := c.engine.MergeFields(survivor.Fields, loser.Fields, merge.FillRules(et.Columns))
	if len(write) > 0 {
		if err := tx.UpdateEntity(ctx, kind, survivor.ID, write); err != nil {
			return stats, err
		}
	}

	if err := tx.DeleteEntity(ctx, kind, loser.ID); err != nil {
		return stats, err
	}

	if survivor.Fields == nil {
		survivor.Fields = store.Row{}
	}
	for col, v := range write {
		survivor.Fields[col] = v
	}
	return stats, nil
}

// combinedExposure adds the exposures of two participations that collapse
// into one bank's position on a project. When either side has no amount the
// fill-if-blank merge already keeps the one that exists.
func combinedExposure(survivor, loser store.Row) (normalize.Value, bool) {
	a, ok := survivor.Get("exposure").Amount()
	if !ok {
		return normalize.Value{}, false
	}
	b, ok := loser.Get("exposure").Amount()
	if !ok {
		return normalize.Value{}, false
	}
	return normalize.AmountOf(a.Add(b)), true
}
