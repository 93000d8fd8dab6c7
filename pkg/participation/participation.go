// Package participation recomputes the derived share percentages of a
// project's bank participations so active shares sum to 100%.
package participation

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// Table is the participation fact table.
const Table = "participations"

// ZeroPercent is the share of settled records and of every record when no
// active exposure remains.
const ZeroPercent = "0.0%"

var hundred = decimal.NewFromInt(100)

// Share is the recomputed state of one participation record.
type Share struct {
	FactID     int64
	BankID     int64
	Exposure   decimal.Decimal
	Settled    bool
	Percentage string
	Changed    bool
}

// Result reports a recomputation for one project.
type Result struct {
	ProjectID   int64
	TotalActive decimal.Decimal
	Shares      []Share
	Updated     int
}

// Normalizer recomputes participation percentages.
type Normalizer struct {
	store           store.Store
	preserveSettled bool
	logger          logging.Logger
}

// Option configures the normalizer.
type Option func(*Normalizer)

// WithPreserveSettled leaves the stored percentage of settled (paid-off)
// records untouched instead of forcing it to 0.0%.
func WithPreserveSettled(preserve bool) Option {
	return func(n *Normalizer) {
		n.preserveSettled = preserve
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// NewNormalizer creates a normalizer over s.
func NewNormalizer(s store.Store, opts ...Option) *Normalizer {
	n := &Normalizer{
		store:  s,
		logger: logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(logging.Component("participation_normalizer"))
	return n
}

// IsSettled reports whether a participation row is paid off.
func IsSettled(fields store.Row) bool {
	return normalize.IsTruthy(fields.Get("paid_off").String())
}

func exposureOf(fields store.Row) decimal.Decimal {
	if d, ok := fields.Get("exposure").Amount(); ok {
		return d
	}
	return decimal.Zero
}

// RecomputeShares rewrites the percentage of every participation of
// projectID: active records get 100*exposure/totalActive to one decimal
// place, settled records 0.0%, and everything 0.0% when the active total is
// zero. Only changed percentages are written. One pass converges.
func (n *Normalizer) RecomputeShares(ctx context.Context, projectID int64) (Result, error) {
	res := Result{ProjectID: projectID, TotalActive: decimal.Zero}

	err := n.store.WithTx(ctx, func(tx store.Store) error {
		facts, err := tx.ListFacts(ctx, Table, store.Row{"project_id": normalize.IntegerOf(projectID)})
		if err != nil {
			return fmt.Errorf("listing participations: %w", err)
		}

		total := decimal.Zero
		for _, f := range facts {
			if !IsSettled(f.Fields) {
				total = total.Add(exposureOf(f.Fields))
			}
		}
		res.TotalActive = total

		for _, f := range facts {
			share := Share{
				FactID:   f.ID,
				Exposure: exposureOf(f.Fields),
				Settled:  IsSettled(f.Fields),
			}
			share.BankID, _ = f.Fields.ID("bank_id")
			current := f.Fields.Get("percentage").String()

			switch {
			case share.Settled && n.preserveSettled:
				share.Percentage = current
			case share.Settled || total.IsZero():
				share.Percentage = ZeroPercent
			default:
				share.Percentage = normalize.FormatPercent(share.Exposure.Mul(hundred).Div(total))
			}

			if share.Percentage != current {
				if err := tx.UpdateFact(ctx, Table, f.ID, store.Row{
					"percentage": normalize.PercentOf(share.Percentage),
				}); err != nil {
					return fmt.Errorf("updating participation %d: %w", f.ID, err)
				}
				share.Changed = true
				res.Updated++
			}
			res.Shares = append(res.Shares, share)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("recompute shares for project %d: %w", projectID, err)
	}

	if res.Updated > 0 {
		n.logger.Info("Participation shares recomputed",
			logging.F("project_id", projectID),
			logging.F("records", len(res.Shares)),
			logging.F("updated", res.Updated),
			logging.F("total_active", res.TotalActive.String()))
	}
	return res, nil
}

// RecomputeAll recomputes every project that has participations, in
// project ID order.
func (n *Normalizer) RecomputeAll(ctx context.Context) ([]Result, error) {
	facts, err := n.store.ListFacts(ctx, Table, nil)
	if err != nil {
		return nil, fmt.Errorf("listing participations: %w", err)
	}
	return n.RecomputeProjects(ctx, projectIDs(facts))
}

// RecomputeProjects recomputes the given projects in ascending ID order,
// skipping duplicates.
func (n *Normalizer) RecomputeProjects(ctx context.Context, ids []int64) ([]Result, error) {
	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	results := make([]Result, 0, len(unique))
	for _, id := range unique {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := n.RecomputeShares(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func projectIDs(facts []store.Fact) []int64 {
	ids := make([]int64, 0, len(facts))
	for _, f := range facts {
		if id, ok := f.Fields.ID("project_id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
