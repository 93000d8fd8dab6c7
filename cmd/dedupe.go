package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/pkg/dedupe"
	"github.com/otherjamesbrown/dealbook/pkg/ingest/events"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/participation"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
)

// NewDedupeCommand creates the dedupe command.
func NewDedupeCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "dedupe <kind>",
		Short: "Collapse entities whose names differ only in case or spacing",
		Long: `Collapse duplicate entities of one kind into a single survivor.

Entities are grouped by normalized name. In each group the entity with the
most dependent records survives (ties go to the oldest). Every dependent
record of a loser is repointed to the survivor, or merged into the
survivor's record when they would collide. The loser's attributes fill the
survivor's blanks, then the loser is deleted.

Kinds: project, bank, person, equity_partner.`,
		Example: `  dealbook dedupe bank --dry-run
  dealbook dedupe bank`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: kindNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := schema.ParseKind(args[0])
			if err != nil {
				return err
			}
			return runDedupe(cmd.Context(), deps, cmd.OutOrStdout(), kind, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the duplicate groups without collapsing them")
	return cmd
}

func kindNames() []string {
	out := make([]string, len(schema.Kinds))
	for i, k := range schema.Kinds {
		out[i] = string(k)
	}
	return out
}

// groupView is the rendered form of one duplicate group.
type groupView struct {
	Key      string   `json:"key" yaml:"key"`
	Survivor string   `json:"survivor" yaml:"survivor"`
	Losers   []string `json:"losers" yaml:"losers"`
}

type dedupeView struct {
	Kind        string      `json:"kind" yaml:"kind"`
	DryRun      bool        `json:"dry_run" yaml:"dry_run"`
	Groups      []groupView `json:"groups" yaml:"groups"`
	Repointed   int         `json:"repointed" yaml:"repointed"`
	MergedFacts int         `json:"merged_facts" yaml:"merged_facts"`
	Deleted     int         `json:"deleted" yaml:"deleted"`
	Recomputed  []int64     `json:"recomputed_projects,omitempty" yaml:"recomputed_projects,omitempty"`
}

func newDedupeView(r dedupe.Report) dedupeView {
	v := dedupeView{
		Kind:        string(r.Kind),
		DryRun:      r.DryRun,
		Groups:      []groupView{},
		Repointed:   r.Repointed,
		MergedFacts: r.MergedFacts,
		Deleted:     r.Deleted,
		Recomputed:  r.Recomputed,
	}
	for _, g := range r.Groups {
		gv := groupView{
			Key:      g.Key,
			Survivor: fmt.Sprintf("%s (#%d, %d dependents)", g.Survivor.Name, g.Survivor.ID, g.Dependents[g.Survivor.ID]),
		}
		for _, l := range g.Losers {
			gv.Losers = append(gv.Losers, fmt.Sprintf("%s (#%d, %d dependents)", l.Name, l.ID, g.Dependents[l.ID]))
		}
		v.Groups = append(v.Groups, gv)
	}
	return v
}

func runDedupe(ctx context.Context, deps *Deps, out io.Writer, kind schema.Kind, dryRun bool) error {
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
	engine := merge.NewEngine(s, merge.WithStageOrder(stages), merge.WithEngineLogger(sess.logger))
	collapser := dedupe.NewCollapser(s, engine,
		dedupe.WithParticipationNormalizer(participation.NewNormalizer(s,
			participation.WithPreserveSettled(sess.cfg.PreserveSettledPercent),
			participation.WithLogger(sess.logger))),
		dedupe.WithLogger(sess.logger))

	var report dedupe.Report
	if dryRun {
		report, err = collapser.DryRun(ctx, kind)
	} else {
		report, err = collapser.CollapseDuplicates(ctx, kind)
	}
	if err != nil {
		return err
	}

	if !dryRun && report.Deleted > 0 {
		publishCollapse(ctx, deps, sess, report)
	}

	view := newDedupeView(report)
	return render(out, sess.cfg.OutputFormat, view, func(w io.Writer) error {
		if len(view.Groups) == 0 {
			fmt.Fprintf(w, "No duplicate %s entities.\n", view.Kind)
			return nil
		}
		title := fmt.Sprintf("Duplicate %s groups", view.Kind)
		if view.DryRun {
			title += " (dry run)"
		}
		t := newTable(w, title)
		t.AppendHeader([]any{"Key", "Survivor", "Collapsed"})
		for _, g := range view.Groups {
			t.AppendRow([]any{g.Key, g.Survivor, strings.Join(g.Losers, "\n")})
		}
		t.Render()
		if !view.DryRun {
			fmt.Fprintf(w, "Deleted %d, repointed %d, merged %d record(s); recomputed projects: %s\n",
				view.Deleted, view.Repointed, view.MergedFacts, joinOrDash(int64s(view.Recomputed)))
		}
		return nil
	})
}

// publishCollapse announces a collapse. Failures are logged only.
func publishCollapse(ctx context.Context, deps *Deps, sess *session, r dedupe.Report) {
	pub, err := deps.OpenPublisher(sess.cfg, sess.logger)
	if err != nil {
		sess.logger.Warn("Collapse not published", logging.Err(err))
		return
	}
	if pub == nil {
		return
	}
	defer pub.Close()

	ev := events.DuplicatesCollapsedEvent{
		BaseEvent:   events.NewBaseEvent("duplicates.collapsed"),
		Kind:        string(r.Kind),
		Groups:      len(r.Groups),
		Deleted:     r.Deleted,
		Repointed:   r.Repointed,
		MergedFacts: r.MergedFacts,
		Recomputed:  r.Recomputed,
	}
	if err := pub.PublishDuplicatesCollapsed(ctx, ev); err != nil {
		sess.logger.Warn("Collapse not published", logging.Err(err))
	}
}
