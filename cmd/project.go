package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/config"
	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// NewProjectCommand creates the project command group.
func NewProjectCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:     "project",
		Short:   "Inspect and correct projects",
		Aliases: []string{"projects"},
	}
	cmd.AddCommand(newProjectShowCommand(deps))
	cmd.AddCommand(newProjectSetCommand(deps))
	return cmd
}

func newProjectShowCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a project's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectShow(cmd.Context(), deps, cmd.OutOrStdout(), args[0])
		},
	}
}

func newProjectSetCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <field=value>...",
		Short: "Overwrite project attributes",
		Long: `Overwrite project attributes, bypassing the merge policies.

Imports never blank out a filled attribute and never move a project's stage
backwards. This command is the way to correct either: every field given is
written as-is, including an earlier stage. An empty value clears the field.

Values are parsed like spreadsheet cells: amounts accept "$1,250,000",
dates accept "3/15/2025" or "2025-03-15".`,
		Example: `  dealbook project set "Riverside Lofts" stage="Pre-Construction"
  dealbook project set "Riverside Lofts" total_cost=48500000 closing_date=2025-02-10
  dealbook project set "Riverside Lofts" notes=`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectSet(cmd.Context(), deps, cmd.OutOrStdout(), args[0], args[1:])
		},
	}
}

// parseAssignments parses field=value pairs against the project columns.
func parseAssignments(t schema.EntityTable, pairs []string) (store.Row, []string, error) {
	row := store.Row{}
	var cleared []string
	for _, pair := range pairs {
		field, raw, ok := strings.Cut(pair, "=")
		field = strings.ToLower(strings.TrimSpace(field))
		if !ok || field == "" {
			return nil, nil, fmt.Errorf("%q: expected field=value: %w", pair, recerrors.ErrValidation)
		}
		col, ok := t.Column(field)
		if !ok {
			return nil, nil, fmt.Errorf("unknown project field %q (fields: %s): %w",
				field, strings.Join(t.ColumnNames(), ", "), recerrors.ErrValidation)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			cleared = append(cleared, field)
			continue
		}
		v := normalize.Coerce(col.Kind, raw)
		if v.IsAbsent() {
			return nil, nil, fmt.Errorf("%s: cannot parse %q as %s: %w", field, raw, col.Kind, recerrors.ErrValidation)
		}
		row[field] = v
	}
	return row, cleared, nil
}

func runProjectSet(ctx context.Context, deps *Deps, out io.Writer, name string, pairs []string) error {
	catalog := schema.Default()
	t := catalog.MustEntity(schema.KindProject)
	candidate, cleared, err := parseAssignments(t, pairs)
	if err != nil {
		return err
	}

	sess, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	s := sess.backend.Store

	stages, err := sess.cfg.Stages()
	if err != nil {
		return err
	}

	var project store.Entity
	var outcome merge.Outcome
	err = s.WithTx(ctx, func(tx store.Store) error {
		var err error
		if project, err = lookupProject(ctx, tx, sess.cfg, name); err != nil {
			return err
		}
		engine := merge.NewEngine(tx, merge.WithStageOrder(stages), merge.WithEngineLogger(sess.logger))
		if outcome, err = engine.MergeEntity(ctx, schema.KindProject, project.ID, candidate, merge.WithOverwrite(candidate.Columns()...)); err != nil {
			return err
		}
		if len(cleared) > 0 {
			blank := store.Row{}
			for _, c := range cleared {
				blank[c] = normalize.Absent()
			}
			if err := tx.UpdateEntity(ctx, schema.KindProject, project.ID, blank); err != nil {
				return err
			}
			outcome = merge.Updated
		}
		project, err = tx.GetEntity(ctx, schema.KindProject, project.ID)
		return err
	})
	if err != nil {
		return err
	}

	sess.logger.Info("Project corrected",
		logging.F("project_id", project.ID),
		logging.F("outcome", outcome.String()),
		logging.F("columns", append(candidate.Columns(), cleared...)))
	return printProject(out, sess.cfg.OutputFormat, project, outcome.String())
}

func runProjectShow(ctx context.Context, deps *Deps, out io.Writer, name string) error {
	sess, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	project, err := lookupProject(ctx, sess.backend.Store, sess.cfg, name)
	if err != nil {
		return err
	}
	return printProject(out, sess.cfg.OutputFormat, project, "")
}

type projectView struct {
	ID      int64             `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Fields  map[string]string `json:"fields" yaml:"fields"`
	Outcome string            `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

func printProject(out io.Writer, format config.OutputFormat, project store.Entity, outcome string) error {
	view := projectView{ID: project.ID, Name: project.Name, Fields: map[string]string{}, Outcome: outcome}
	for col, v := range project.Fields {
		if !v.IsAbsent() {
			view.Fields[col] = v.String()
		}
	}
	return render(out, format, view, func(w io.Writer) error {
		title := fmt.Sprintf("%s (#%d)", view.Name, view.ID)
		if outcome != "" {
			title += " - " + outcome
		}
		t := newTable(w, title)
		t.AppendHeader([]any{"Field", "Value"})
		cols := make([]string, 0, len(view.Fields))
		for c := range view.Fields {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			t.AppendRow([]any{c, view.Fields[c]})
		}
		t.Render()
		return nil
	})
}
