package participation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/store/memstore"
)

type participant struct {
	bank     string
	exposure string
	paidOff  string
	percent  string
}

func seedProject(t *testing.T, s store.Store, name string, parts ...participant) int64 {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateEntity(ctx, schema.KindProject, name, nil)
	require.NoError(t, err)
	for _, pt := range parts {
		b, err := s.CreateEntity(ctx, schema.KindBank, name+" "+pt.bank, nil)
		require.NoError(t, err)
		row := store.Row{
			"project_id": normalize.IntegerOf(p.ID),
			"bank_id":    normalize.IntegerOf(b.ID),
			"exposure":   normalize.NormalizeAmount(pt.exposure),
			"paid_off":   normalize.NormalizeText(pt.paidOff),
			"percentage": normalize.NormalizePercent(pt.percent),
		}
		_, err = s.InsertFact(ctx, Table, row)
		require.NoError(t, err)
	}
	return p.ID
}

func percentages(res Result) []string {
	out := make([]string, len(res.Shares))
	for i, s := range res.Shares {
		out[i] = s.Percentage
	}
	return out
}

func newTestNormalizer(s store.Store, opts ...Option) *Normalizer {
	return NewNormalizer(s, append([]Option{WithLogger(logging.NewNopLogger())}, opts...)...)
}

func TestRecomputeShares_ActiveSumTo100(t *testing.T) {
	s := memstore.New(nil)
	id := seedProject(t, s, "Alpha",
		participant{bank: "A", exposure: "40"},
		participant{bank: "B", exposure: "30"},
		participant{bank: "C", exposure: "30"},
	)

	res, err := newTestNormalizer(s).RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"40.0%", "30.0%", "30.0%"}, percentages(res))
	assert.Equal(t, 3, res.Updated)

	sum := decimal.Zero
	for _, p := range percentages(res) {
		sum = sum.Add(decimal.RequireFromString(p[:len(p)-1]))
	}
	assert.True(t, sum.Sub(decimal.NewFromInt(100)).Abs().LessThanOrEqual(decimal.RequireFromString("0.1")))
}

func TestRecomputeShares_SettledForcedToZero(t *testing.T) {
	s := memstore.New(nil)
	id := seedProject(t, s, "Beta",
		participant{bank: "Old", exposure: "50", paidOff: "Paid Off", percent: "50.0%"},
		participant{bank: "New", exposure: "50"},
	)

	res, err := newTestNormalizer(s).RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0%", "100.0%"}, percentages(res))
	assert.True(t, res.Shares[0].Settled)

	facts, err := s.ListFacts(context.Background(), Table, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0%", facts[0].Fields.Get("percentage").String())
	assert.Equal(t, "100.0%", facts[1].Fields.Get("percentage").String())
}

func TestRecomputeShares_PreserveSettled(t *testing.T) {
	s := memstore.New(nil)
	id := seedProject(t, s, "Gamma",
		participant{bank: "Old", exposure: "50", paidOff: "yes", percent: "50.0%"},
		participant{bank: "New", exposure: "50"},
	)

	res, err := newTestNormalizer(s, WithPreserveSettled(true)).RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"50.0%", "100.0%"}, percentages(res))
	assert.False(t, res.Shares[0].Changed)
}

func TestRecomputeShares_ZeroTotal(t *testing.T) {
	s := memstore.New(nil)
	id := seedProject(t, s, "Delta",
		participant{bank: "A", exposure: "$-", percent: "60%"},
		participant{bank: "B", exposure: "0"},
	)

	res, err := newTestNormalizer(s).RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0%", "0.0%"}, percentages(res))
}

func TestRecomputeShares_SecondPassWritesNothing(t *testing.T) {
	s := memstore.New(nil)
	id := seedProject(t, s, "Epsilon",
		participant{bank: "A", exposure: "1"},
		participant{bank: "B", exposure: "2"},
	)
	n := newTestNormalizer(s)

	first, err := n.RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"33.3%", "66.7%"}, percentages(first))

	second, err := n.RecomputeShares(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Updated)
}

func TestRecomputeAll(t *testing.T) {
	s := memstore.New(nil)
	a := seedProject(t, s, "Alpha", participant{bank: "A", exposure: "10"})
	b := seedProject(t, s, "Beta", participant{bank: "A", exposure: "5"}, participant{bank: "B", exposure: "15"})

	results, err := newTestNormalizer(s).RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].ProjectID)
	assert.Equal(t, b, results[1].ProjectID)
	assert.Equal(t, []string{"25.0%", "75.0%"}, percentages(results[1]))
}
