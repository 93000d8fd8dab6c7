package ingest

import (
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/tabular"
)

func anywhere(text string) tabular.Signature {
	return tabular.Signature{Column: tabular.AnyColumn, Contains: text}
}

func at(col, text string) tabular.Signature {
	return tabular.Signature{Column: tabular.Col(col), Contains: text}
}

func project(legacy string) Field {
	return Field{Column: "project_id", Aliases: []string{"Project Name", "Project", "Deal Name", "Deal", "Property"}, Legacy: legacy}
}

func notes(column string) Field {
	return Field{Column: column, Aliases: []string{"Notes", "Comments", "Remarks"}}
}

func stage(s string) store.Row {
	return store.Row{"stage": normalize.TextOf(s)}
}

var paidOff = store.Row{"paid_off": normalize.TextOf("Paid Off")}

// Builtin returns the built-in dataset declarations.
func Builtin() []Dataset {
	return []Dataset{
		{
			Name:        "projects",
			Description: "Deal pipeline: project stage, location and budget",
			Entity:      schema.KindProject,
			Signatures:  []tabular.Signature{at("A", "Project Name"), anywhere("Deal Name")},
			Sections:    []string{"Pre-Construction", "Under Construction", "Stabilized", "Closed", "Liquidated", "Other"},
			SectionValues: map[string]store.Row{
				"pre-construction":   stage("Prospective"),
				"under construction": stage("Under Construction"),
				"stabilized":         stage("Stabilized"),
				"closed":             stage("Closed"),
				"liquidated":         stage("Liquidated"),
				"other":              stage("Other"),
			},
			Fields: []Field{
				{Column: NameColumn, Aliases: []string{"Project Name", "Project", "Deal Name", "Deal"}, Legacy: "A"},
				{Column: "stage", Aliases: []string{"Stage", "Status", "Phase"}, Legacy: "B"},
				{Column: "address", Aliases: []string{"Address", "Street Address", "Location"}},
				{Column: "city", Aliases: []string{"City"}},
				{Column: "state", Aliases: []string{"State"}},
				{Column: "property_type", Aliases: []string{"Property Type", "Product Type", "Asset Type"}},
				{Column: "units", Aliases: []string{"Units", "Unit Count", "# Units"}},
				{Column: "total_cost", Aliases: []string{"Total Cost", "Total Project Cost", "Budget"}},
				{Column: "equity_required", Aliases: []string{"Equity Required", "Required Equity"}},
				{Column: "closing_date", Aliases: []string{"Closing Date", "Close Date"}},
				{Column: "construction_start", Aliases: []string{"Construction Start", "Start Date"}},
				{Column: "completion_date", Aliases: []string{"Completion Date", "Completion", "CO Date"}},
				notes("notes"),
			},
		},
		{
			Name:        "loans",
			Description: "Construction and permanent loans per project",
			Table:       "loans",
			Signatures:  []tabular.Signature{anywhere("Loan Amount"), anywhere("Loan Phase")},
			Sections:    []string{"Construction", "Permanent", "Paid Off"},
			SectionValues: map[string]store.Row{
				"construction": {"loan_phase": normalize.TextOf("Construction")},
				"permanent":    {"loan_phase": normalize.TextOf("Permanent")},
			},
			Fields: []Field{
				project("A"),
				{Column: "loan_phase", Aliases: []string{"Loan Phase", "Loan Type", "Phase"}, Legacy: "B", Default: "Construction"},
				{Column: "bank_id", Aliases: []string{"Lender", "Bank", "Lending Bank"}, Legacy: "C"},
				{Column: "loan_amount", Aliases: []string{"Loan Amount", "Commitment", "Loan"}, Legacy: "D"},
				{Column: "amount_funded", Aliases: []string{"Amount Funded", "Funded", "Drawn"}},
				{Column: "interest_rate", Aliases: []string{"Interest Rate", "Rate"}},
				{Column: "rate_terms", Aliases: []string{"Rate Terms", "Index", "Spread"}},
				{Column: "closing_date", Aliases: []string{"Closing Date", "Close Date"}},
				{Column: "maturity_date", Aliases: []string{"Maturity Date", "Maturity"}, Fallback: "maturity_text"},
				{Column: "extension_options", Aliases: []string{"Extension Options", "Extensions"}},
				notes("notes"),
			},
		},
		{
			Name:        "participations",
			Description: "Bank participations and their exposure per project",
			Table:       "participations",
			Signatures:  []tabular.Signature{at("K", "Bank"), anywhere("Participant"), anywhere("Exposure")},
			Sections:    []string{"Active", "Paid Off", "Settled"},
			SectionValues: map[string]store.Row{
				"paid off": paidOff,
				"settled":  paidOff,
			},
			Fields: []Field{
				project("A"),
				{Column: "bank_id", Aliases: []string{"Bank", "Participant", "Participating Bank", "Lender"}, Legacy: "K"},
				{Column: "exposure", Aliases: []string{"Exposure", "Participation Amount", "Amount"}, Legacy: "L"},
				{Column: "percentage", Aliases: []string{"Percentage", "Participation %", "% Participation", "Pct"}, Legacy: "M"},
				{Column: "paid_off", Aliases: []string{"Paid Off", "Paid Off?", "Settled"}, Legacy: "N"},
				{Column: "participation_date", Aliases: []string{"Participation Date", "Date"}},
				notes("notes"),
			},
		},
		{
			Name:        "guarantees",
			Description: "Personal guarantees per project and guarantor",
			Table:       "guarantees",
			Signatures:  []tabular.Signature{at("A", "Birth Order"), anywhere("Guarantor")},
			Fields: []Field{
				{Column: "birth_order", Of: "person_id", Aliases: []string{"Birth Order"}, Legacy: "A"},
				{Column: "person_id", Aliases: []string{"Guarantor", "Guarantor Name", "Person"}, Legacy: "B"},
				project("C"),
				{Column: "guarantee_type", Aliases: []string{"Guarantee Type", "Type"}},
				{Column: "amount", Aliases: []string{"Guarantee Amount", "Amount"}},
				{Column: "percentage", Aliases: []string{"Guarantee %", "Percentage", "Pct"}},
				{Column: "email", Of: "person_id", Aliases: []string{"Email", "E-mail"}},
				{Column: "phone", Of: "person_id", Aliases: []string{"Phone", "Cell"}},
				notes("notes"),
			},
		},
		{
			Name:        "covenants",
			Description: "Loan covenants and their compliance status",
			Table:       "covenants",
			Signatures:  []tabular.Signature{anywhere("Covenant Type"), anywhere("Requirement")},
			Fields: []Field{
				project("A"),
				{Column: "covenant_type", Aliases: []string{"Covenant Type", "Covenant"}, Legacy: "B"},
				{Column: "requirement", Aliases: []string{"Requirement", "Description"}},
				{Column: "threshold", Aliases: []string{"Threshold", "Minimum", "Level"}},
				{Column: "test_date", Aliases: []string{"Test Date", "Date"}},
				{Column: "status", Aliases: []string{"Status", "Compliance"}},
				notes("notes"),
			},
		},
		{
			Name:        "dscr_tests",
			Description: "Debt service coverage tests per project",
			Table:       "dscr_tests",
			Signatures:  []tabular.Signature{anywhere("Required DSCR"), anywhere("Test Number"), anywhere("Test #")},
			Fields: []Field{
				project("A"),
				{Column: "test_number", Aliases: []string{"Test Number", "Test #", "Test No"}, Legacy: "B"},
				{Column: "test_date", Aliases: []string{"Test Date", "Date"}},
				{Column: "required_dscr", Aliases: []string{"Required DSCR", "Required", "Covenant DSCR"}},
				{Column: "actual_dscr", Aliases: []string{"Actual DSCR", "Actual"}},
				{Column: "status", Aliases: []string{"Status", "Result"}},
				notes("notes"),
			},
		},
		{
			Name:        "liquidity_requirements",
			Description: "Guarantor liquidity requirements per project",
			Table:       "liquidity_requirements",
			Signatures:  []tabular.Signature{anywhere("Lendable"), anywhere("Total Liquidity")},
			Fields: []Field{
				project("A"),
				{Column: "lender_id", Aliases: []string{"Lender", "Bank"}, Legacy: "B"},
				{Column: "total_amount", Aliases: []string{"Total Liquidity", "Total Amount", "Liquidity Requirement"}},
				{Column: "lendable_amount", Aliases: []string{"Lendable Amount", "Lendable"}},
				notes("notes"),
			},
		},
		{
			Name:        "bank_targets",
			Description: "Relationship targets and current exposure per bank",
			Table:       "bank_targets",
			Signatures:  []tabular.Signature{anywhere("Target Amount"), anywhere("Relationship Manager")},
			Fields: []Field{
				{Column: "bank_id", Aliases: []string{"Bank", "Bank Name", "Lender"}, Legacy: "A"},
				{Column: "target_amount", Aliases: []string{"Target Amount", "Target", "Hold Limit"}},
				{Column: "current_exposure", Aliases: []string{"Current Exposure", "Exposure", "Outstanding"}},
				{Column: "relationship_manager", Aliases: []string{"Relationship Manager", "Banker"}},
				notes("comments"),
				{Column: "city", Of: "bank_id", Aliases: []string{"City"}},
				{Column: "state", Of: "bank_id", Aliases: []string{"State"}},
				{Column: "contact_name", Of: "bank_id", Aliases: []string{"Contact Name", "Contact"}},
				{Column: "contact_email", Of: "bank_id", Aliases: []string{"Contact Email", "Email"}},
				{Column: "contact_phone", Of: "bank_id", Aliases: []string{"Contact Phone", "Phone"}},
			},
		},
		{
			Name:        "equity_commitments",
			Description: "Equity partner commitments per project",
			Table:       "equity_commitments",
			Signatures:  []tabular.Signature{anywhere("Equity Partner"), anywhere("Investor")},
			Fields: []Field{
				project("A"),
				{Column: "equity_partner_id", Aliases: []string{"Equity Partner", "Investor", "Partner"}, Legacy: "B"},
				{Column: "commitment_amount", Aliases: []string{"Commitment Amount", "Commitment", "Committed"}},
				{Column: "funded_amount", Aliases: []string{"Funded Amount", "Funded", "Contributed"}},
				{Column: "commitment_date", Aliases: []string{"Commitment Date", "Date"}},
				{Column: "contact_name", Of: "equity_partner_id", Aliases: []string{"Contact Name", "Contact"}},
				notes("notes"),
			},
		},
	}
}
