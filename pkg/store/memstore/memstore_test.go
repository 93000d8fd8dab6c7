package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

func TestCreateEntity_NameUniquePerKind(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	bank, err := s.CreateEntity(ctx, schema.KindBank, " First Horizon Bank ", nil)
	require.NoError(t, err)
	assert.Equal(t, "First Horizon Bank", bank.Name)
	assert.Equal(t, int64(1), bank.ID)

	_, err = s.CreateEntity(ctx, schema.KindBank, "First Horizon Bank", nil)
	assert.True(t, recerrors.IsConflict(err))

	// A case variant is a distinct name until the collapser merges it.
	variant, err := s.CreateEntity(ctx, schema.KindBank, "FIRST HORIZON BANK", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), variant.ID)

	// Same name in another kind is a different scope.
	_, err = s.CreateEntity(ctx, schema.KindProject, "First Horizon Bank", nil)
	assert.NoError(t, err)

	_, err = s.CreateEntity(ctx, schema.KindBank, "  ", nil)
	assert.True(t, recerrors.IsValidation(err))
}

func TestFindEntities_Modes(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for _, n := range []string{"WaterPointe", "Harbor View Apartments", "Harbor"} {
		_, err := s.CreateEntity(ctx, schema.KindProject, n, nil)
		require.NoError(t, err)
	}

	got, err := s.FindEntities(ctx, schema.KindProject, "Waterpointe", store.MatchExact)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.FindEntities(ctx, schema.KindProject, "waterpointe", store.MatchCaseInsensitive)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WaterPointe", got[0].Name)

	got, err = s.FindEntities(ctx, schema.KindProject, "harbor view", store.MatchContains)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Harbor View Apartments", got[0].Name)
	assert.Equal(t, "Harbor", got[1].Name)

	got, err = s.FindEntities(ctx, schema.KindProject, "", store.MatchContains)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFacts_NaturalKeyAndReferences(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	p, err := s.CreateEntity(ctx, schema.KindProject, "Alpha", nil)
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, schema.KindBank, "Regions", nil)
	require.NoError(t, err)

	row := store.Row{
		"project_id": normalize.IntegerOf(p.ID),
		"bank_id":    normalize.IntegerOf(b.ID),
		"exposure":   normalize.AmountOf(decimal.NewFromInt(40)),
		"notes":      normalize.Absent(),
	}
	f, err := s.InsertFact(ctx, "participations", row)
	require.NoError(t, err)
	_, hasNotes := f.Fields["notes"]
	assert.False(t, hasNotes, "absent values are not stored")

	_, err = s.InsertFact(ctx, "participations", row)
	assert.True(t, recerrors.IsConflict(err))

	found, err := s.FindFact(ctx, "participations", store.Row{
		"project_id": normalize.IntegerOf(p.ID),
		"bank_id":    normalize.IntegerOf(b.ID),
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, f.ID, found.ID)

	missing, err := s.FindFact(ctx, "participations", store.Row{
		"project_id": normalize.IntegerOf(p.ID),
		"bank_id":    normalize.IntegerOf(999),
	})
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.InsertFact(ctx, "participations", store.Row{
		"project_id": normalize.IntegerOf(p.ID),
		"bank_id":    normalize.IntegerOf(999),
	})
	assert.True(t, recerrors.IsInvalidState(err))

	_, err = s.InsertFact(ctx, "participations", store.Row{"project_id": normalize.IntegerOf(p.ID)})
	assert.True(t, recerrors.IsValidation(err))

	err = s.DeleteEntity(ctx, schema.KindBank, b.ID)
	assert.True(t, recerrors.IsInvalidState(err))
}

func TestUpdateFact(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	p, _ := s.CreateEntity(ctx, schema.KindProject, "Alpha", nil)

	f, err := s.InsertFact(ctx, "covenants", store.Row{
		"project_id":    normalize.IntegerOf(p.ID),
		"covenant_type": normalize.TextOf("DSCR"),
		"threshold":     normalize.TextOf("1.25x"),
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateFact(ctx, "covenants", f.ID, store.Row{
		"threshold": normalize.TextOf("1.30x"),
		"status":    normalize.TextOf("Passed"),
	}))

	facts, err := s.ListFacts(ctx, "covenants", store.Row{"project_id": normalize.IntegerOf(p.ID)})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "1.30x", facts[0].Fields.Get("threshold").String())
	assert.Equal(t, "Passed", facts[0].Fields.Get("status").String())

	err = s.UpdateFact(ctx, "covenants", 42, store.Row{})
	assert.True(t, recerrors.IsNotFound(err))

	err = s.UpdateFact(ctx, "covenants", f.ID, store.Row{"bogus": normalize.TextOf("x")})
	assert.True(t, recerrors.IsValidation(err))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.CreateEntity(ctx, schema.KindBank, "Kept", nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.CreateEntity(ctx, schema.KindBank, "Discarded", nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	banks, err := s.ListEntities(ctx, schema.KindBank)
	require.NoError(t, err)
	require.Len(t, banks, 1)
	assert.Equal(t, "Kept", banks[0].Name)

	require.NoError(t, s.WithTx(ctx, func(tx store.Store) error {
		_, err := tx.CreateEntity(ctx, schema.KindBank, "Committed", nil)
		return err
	}))
	assert.Equal(t, 2, s.Counts()["banks"])
}

func TestReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	e, err := s.CreateEntity(ctx, schema.KindBank, "Regions", store.Row{"city": normalize.TextOf("Nashville")})
	require.NoError(t, err)

	e.Fields["city"] = normalize.TextOf("Memphis")
	got, err := s.GetEntity(ctx, schema.KindBank, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nashville", got.Fields.Get("city").String())

	_, err = s.GetEntity(ctx, schema.KindBank, 99)
	assert.True(t, recerrors.IsNotFound(err))
}

func TestImport_AllowsLegacyDuplicateNames(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.Import(Snapshot{
		Entities: []store.Entity{
			{Kind: schema.KindBank, ID: 4, Name: "First Horizon Bank"},
			{Kind: schema.KindBank, ID: 9, Name: "FIRST HORIZON BANK"},
			{Kind: schema.KindProject, ID: 1, Name: "Alpha"},
		},
		Facts: []store.Fact{
			{Table: "bank_targets", ID: 3, Fields: store.Row{"bank_id": normalize.IntegerOf(9)}},
		},
	}))

	banks, err := s.FindEntities(ctx, schema.KindBank, "first horizon bank", store.MatchCaseInsensitive)
	require.NoError(t, err)
	assert.Len(t, banks, 2)

	// Sequences continue after imported IDs.
	b, err := s.CreateEntity(ctx, schema.KindBank, "Regions", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.ID)

	err = s.Import(Snapshot{Facts: []store.Fact{
		{Table: "bank_targets", ID: 5, Fields: store.Row{"bank_id": normalize.IntegerOf(77)}},
	}})
	assert.True(t, recerrors.IsInvalidState(err))

	snap := s.Export()
	assert.Len(t, snap.Entities, 4)
	assert.Len(t, snap.Facts, 1)
}
