package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
)

func TestDefaultCatalog_NaturalKeys(t *testing.T) {
	c := Default()
	want := map[string][]string{
		"loans":                  {"project_id", "loan_phase"},
		"participations":         {"project_id", "bank_id"},
		"guarantees":             {"project_id", "person_id"},
		"covenants":              {"project_id", "covenant_type"},
		"dscr_tests":             {"project_id", "test_number"},
		"liquidity_requirements": {"project_id"},
		"bank_targets":           {"bank_id"},
		"equity_commitments":     {"project_id", "equity_partner_id"},
	}
	require.Len(t, c.Facts(), len(want))
	for name, key := range want {
		f, ok := c.Fact(name)
		require.True(t, ok, name)
		assert.Equal(t, key, f.NaturalKey, name)
		assert.True(t, f.IsKey(key[0]))
	}
}

func TestDefaultCatalog_StageIsPriorityGated(t *testing.T) {
	p := Default().MustEntity(KindProject)
	col, ok := p.Column("stage")
	require.True(t, ok)
	assert.Equal(t, PriorityGated, col.Policy)

	notes, ok := p.Column("notes")
	require.True(t, ok)
	assert.Equal(t, FillIfBlank, notes.Policy)
}

func TestCatalog_ReferencesTo(t *testing.T) {
	refs := Default().ReferencesTo(KindBank)
	var got []string
	for _, r := range refs {
		got = append(got, r.Fact.Name+"."+r.Column)
	}
	assert.ElementsMatch(t, []string{
		"loans.bank_id",
		"participations.bank_id",
		"liquidity_requirements.lender_id",
		"bank_targets.bank_id",
	}, got)
}

func TestNewCatalog_RejectsUndeclaredKey(t *testing.T) {
	_, err := NewCatalog(
		[]EntityTable{{Kind: KindProject, Table: "projects"}},
		[]FactTable{{
			Name:       "bad",
			Table:      "bad",
			Columns:    []Column{{Name: "project_id", Kind: normalize.KindInteger}},
			NaturalKey: []string{"missing"},
			Owner:      Reference{Column: "project_id", Kind: KindProject},
		}},
	)
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("banks")
	require.NoError(t, err)
	assert.Equal(t, KindBank, k)

	k, err = ParseKind("equity_partner")
	require.NoError(t, err)
	assert.Equal(t, KindEquityPartner, k)

	_, err = ParseKind("lenders")
	assert.Error(t, err)
}

func TestColumn_SQLType(t *testing.T) {
	assert.Equal(t, "numeric", Column{Kind: normalize.KindAmount}.SQLType())
	assert.Equal(t, "date", Column{Kind: normalize.KindDate}.SQLType())
	assert.Equal(t, "bigint", Column{Kind: normalize.KindInteger}.SQLType())
	assert.Equal(t, "text", Column{Kind: normalize.KindPercent}.SQLType())
}
