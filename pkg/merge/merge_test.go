package merge

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/store/memstore"
)

func amount(s string) normalize.Value {
	return normalize.AmountOf(decimal.RequireFromString(s))
}

func newTestEngine(s store.Store) *Engine {
	return NewEngine(s, WithEngineLogger(logging.NewNopLogger()))
}

func TestMergeFields_Policies(t *testing.T) {
	e := newTestEngine(memstore.New(nil))
	rules := Rules{"notes": FillIfBlank, "stage": PriorityGated, "amount": Overwrite}

	current := store.Row{
		"notes":  normalize.TextOf("keep me"),
		"stage":  normalize.TextOf("Started"),
		"amount": amount("100"),
	}
	candidate := store.Row{
		"notes":  normalize.TextOf("replacement"),
		"stage":  normalize.TextOf("stabilized"),
		"amount": amount("250"),
		"city":   normalize.Absent(),
	}

	write := e.MergeFields(current, candidate, rules)
	assert.Equal(t, store.Row{
		"stage":  normalize.TextOf("Stabilized"),
		"amount": amount("250"),
	}, write)
}

func TestMergeFields_AbsentAndEqualNeverWrite(t *testing.T) {
	e := newTestEngine(memstore.New(nil))
	current := store.Row{"amount": amount("1234.50"), "notes": normalize.TextOf("x")}
	candidate := store.Row{"amount": amount("1234.5"), "notes": normalize.Absent()}

	assert.Empty(t, e.MergeFields(current, candidate, Rules{}))
}

func TestMergeFields_FillIfBlank(t *testing.T) {
	e := newTestEngine(memstore.New(nil))
	rules := Rules{"notes": FillIfBlank}

	write := e.MergeFields(store.Row{}, store.Row{"notes": normalize.TextOf("first")}, rules)
	assert.Equal(t, "first", write.Get("notes").String())

	write = e.MergeFields(store.Row{"notes": normalize.TextOf("")}, store.Row{"notes": normalize.TextOf("first")}, rules)
	assert.Len(t, write, 1)
}

func TestMergeEntity_StageMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	e := newTestEngine(s)
	p, err := s.CreateEntity(ctx, schema.KindProject, "Alpha", nil)
	require.NoError(t, err)

	stage := func() string {
		got, err := s.GetEntity(ctx, schema.KindProject, p.ID)
		require.NoError(t, err)
		return got.Fields.Get("stage").String()
	}

	out, err := e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{"stage": normalize.TextOf("Under Construction")})
	require.NoError(t, err)
	assert.Equal(t, Updated, out)
	assert.Equal(t, "Under Construction", stage())

	out, err = e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{"stage": normalize.TextOf("Under Contract")})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)
	assert.Equal(t, "Under Construction", stage())

	out, err = e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{"stage": normalize.TextOf("Stabilized")})
	require.NoError(t, err)
	assert.Equal(t, Updated, out)
	assert.Equal(t, "Stabilized", stage())

	out, err = e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{"stage": normalize.TextOf("HoldCo")})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)
}

func TestMergeEntity_WithOverwrite(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	e := newTestEngine(s)
	p, err := s.CreateEntity(ctx, schema.KindProject, "Alpha", store.Row{
		"stage": normalize.TextOf("Closed"),
		"city":  normalize.TextOf("Nashvile"),
	})
	require.NoError(t, err)

	out, err := e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{"city": normalize.TextOf("Nashville")})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out, "fill-if-blank keeps existing city")

	out, err = e.MergeEntity(ctx, schema.KindProject, p.ID, store.Row{
		"city":  normalize.TextOf("Nashville"),
		"stage": normalize.TextOf("Under Construction"),
	}, WithOverwrite("city", "stage"))
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	got, err := s.GetEntity(ctx, schema.KindProject, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nashville", got.Fields.Get("city").String())
	assert.Equal(t, "Under Construction", got.Fields.Get("stage").String())
}

func TestMergeEntity_Missing(t *testing.T) {
	e := newTestEngine(memstore.New(nil))
	_, err := e.MergeEntity(context.Background(), schema.KindBank, 9, store.Row{})
	assert.True(t, recerrors.IsNotFound(err))
}

func TestUpsertFact_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	e := newTestEngine(s)
	p, _ := s.CreateEntity(ctx, schema.KindProject, "Alpha", nil)
	b, _ := s.CreateEntity(ctx, schema.KindBank, "Regions", nil)

	row := store.Row{
		"project_id":    normalize.IntegerOf(p.ID),
		"loan_phase":    normalize.TextOf("Construction"),
		"bank_id":       normalize.IntegerOf(b.ID),
		"loan_amount":   amount("12500000"),
		"interest_rate": normalize.PercentOf("6.25%"),
		"maturity_date": normalize.NormalizeDate("6/30/2027"),
	}

	out, err := e.UpsertFact(ctx, "loans", row)
	require.NoError(t, err)
	assert.Equal(t, Created, out)

	out, err = e.UpsertFact(ctx, "loans", row)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	facts, err := s.ListFacts(ctx, "loans", nil)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestUpsertFact_UpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	e := newTestEngine(s)
	p, _ := s.CreateEntity(ctx, schema.KindProject, "Alpha", nil)

	base := store.Row{
		"project_id":  normalize.IntegerOf(p.ID),
		"test_number": normalize.IntegerOf(1),
		"status":      normalize.TextOf("Pending"),
		"notes":       normalize.TextOf("first note"),
	}
	_, err := e.UpsertFact(ctx, "dscr_tests", base)
	require.NoError(t, err)

	next := base.Clone()
	next["status"] = normalize.TextOf("Passed")
	next["notes"] = normalize.TextOf("second note")
	next["actual_dscr"] = normalize.TextOf("1.42x")

	out, err := e.UpsertFact(ctx, "dscr_tests", next)
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	facts, err := s.ListFacts(ctx, "dscr_tests", nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Passed", facts[0].Fields.Get("status").String())
	assert.Equal(t, "first note", facts[0].Fields.Get("notes").String(), "notes are fill-if-blank")
	assert.Equal(t, "1.42x", facts[0].Fields.Get("actual_dscr").String())
}

func TestUpsertFact_OwnerMissing(t *testing.T) {
	e := newTestEngine(memstore.New(nil))
	_, err := e.UpsertFact(context.Background(), "covenants", store.Row{
		"project_id":    normalize.Absent(),
		"covenant_type": normalize.TextOf("DSCR"),
	})
	assert.True(t, recerrors.IsOwnerMissing(err))

	_, err = e.UpsertFact(context.Background(), "nope", store.Row{})
	assert.True(t, recerrors.IsValidation(err))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}
