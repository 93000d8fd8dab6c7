package schema

import (
	"sync"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
)

func text(name string) Column    { return Column{Name: name, Kind: normalize.KindText} }
func amount(name string) Column  { return Column{Name: name, Kind: normalize.KindAmount} }
func date(name string) Column    { return Column{Name: name, Kind: normalize.KindDate} }
func percent(name string) Column { return Column{Name: name, Kind: normalize.KindPercent} }
func integer(name string) Column { return Column{Name: name, Kind: normalize.KindInteger} }
func ref(name string) Column     { return Column{Name: name, Kind: normalize.KindInteger} }

func fill(c Column) Column {
	c.Policy = FillIfBlank
	return c
}

func gated(c Column) Column {
	c.Policy = PriorityGated
	return c
}

// Entity attributes default to fill-if-blank so a later, lower-quality
// source cannot clobber data already on file.
func fillAll(cols ...Column) []Column {
	for i := range cols {
		if cols[i].Policy == Overwrite {
			cols[i].Policy = FillIfBlank
		}
	}
	return cols
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the dealbook catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(defaultEntities(), defaultFacts())
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func defaultEntities() []EntityTable {
	return []EntityTable{
		{
			Kind:  KindProject,
			Table: "projects",
			Columns: fillAll(
				gated(text("stage")),
				text("address"),
				text("city"),
				text("state"),
				text("property_type"),
				integer("units"),
				amount("total_cost"),
				amount("equity_required"),
				date("closing_date"),
				date("construction_start"),
				date("completion_date"),
				text("notes"),
			),
		},
		{
			Kind:  KindBank,
			Table: "banks",
			Columns: fillAll(
				text("city"),
				text("state"),
				text("contact_name"),
				text("contact_email"),
				text("contact_phone"),
				text("notes"),
			),
		},
		{
			Kind:  KindPerson,
			Table: "persons",
			Columns: fillAll(
				text("email"),
				text("phone"),
				integer("birth_order"),
				text("notes"),
			),
		},
		{
			Kind:  KindEquityPartner,
			Table: "equity_partners",
			Columns: fillAll(
				text("contact_name"),
				text("contact_email"),
				text("notes"),
			),
		},
	}
}

func projectOwner() Reference { return Reference{Column: "project_id", Kind: KindProject} }

func defaultFacts() []FactTable {
	return []FactTable{
		{
			Name:  "loans",
			Table: "loans",
			Columns: []Column{
				ref("project_id"),
				text("loan_phase"),
				ref("bank_id"),
				amount("loan_amount"),
				amount("amount_funded"),
				percent("interest_rate"),
				fill(text("rate_terms")),
				date("closing_date"),
				date("maturity_date"),
				fill(text("maturity_text")),
				text("extension_options"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "loan_phase"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner(), {Column: "bank_id", Kind: KindBank}},
		},
		{
			Name:  "participations",
			Table: "participations",
			Columns: []Column{
				ref("project_id"),
				ref("bank_id"),
				amount("exposure"),
				fill(percent("percentage")),
				text("paid_off"),
				date("participation_date"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "bank_id"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner(), {Column: "bank_id", Kind: KindBank}},
		},
		{
			Name:  "guarantees",
			Table: "guarantees",
			Columns: []Column{
				ref("project_id"),
				ref("person_id"),
				text("guarantee_type"),
				amount("amount"),
				percent("percentage"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "person_id"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner(), {Column: "person_id", Kind: KindPerson}},
		},
		{
			Name:  "covenants",
			Table: "covenants",
			Columns: []Column{
				ref("project_id"),
				text("covenant_type"),
				text("requirement"),
				text("threshold"),
				date("test_date"),
				text("status"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "covenant_type"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner()},
		},
		{
			Name:  "dscr_tests",
			Table: "dscr_tests",
			Columns: []Column{
				ref("project_id"),
				integer("test_number"),
				date("test_date"),
				text("required_dscr"),
				text("actual_dscr"),
				text("status"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "test_number"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner()},
		},
		{
			Name:  "liquidity_requirements",
			Table: "liquidity_requirements",
			Columns: []Column{
				ref("project_id"),
				ref("lender_id"),
				amount("total_amount"),
				amount("lendable_amount"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner(), {Column: "lender_id", Kind: KindBank}},
		},
		{
			Name:  "bank_targets",
			Table: "bank_targets",
			Columns: []Column{
				ref("bank_id"),
				amount("target_amount"),
				amount("current_exposure"),
				text("relationship_manager"),
				fill(text("comments")),
			},
			NaturalKey: []string{"bank_id"},
			Owner:      Reference{Column: "bank_id", Kind: KindBank},
			References: []Reference{{Column: "bank_id", Kind: KindBank}},
		},
		{
			Name:  "equity_commitments",
			Table: "equity_commitments",
			Columns: []Column{
				ref("project_id"),
				ref("equity_partner_id"),
				amount("commitment_amount"),
				amount("funded_amount"),
				date("commitment_date"),
				fill(text("notes")),
			},
			NaturalKey: []string{"project_id", "equity_partner_id"},
			Owner:      projectOwner(),
			References: []Reference{projectOwner(), {Column: "equity_partner_id", Kind: KindEquityPartner}},
		},
	}
}
