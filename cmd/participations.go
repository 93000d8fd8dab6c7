package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/pkg/entities"
	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/participation"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// NewParticipationsCommand creates the participations command group.
func NewParticipationsCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:     "participations",
		Short:   "Maintain bank participation shares",
		Aliases: []string{"participation"},
	}
	cmd.AddCommand(newParticipationsRecomputeCommand(deps))
	return cmd
}

func newParticipationsRecomputeCommand(deps *Deps) *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute participation percentages",
		Long: `Recompute the percentage of every participation from its exposure.

Active participations get their share of the project's total active
exposure, rounded to one decimal place. Paid-off participations get 0.0%
unless preserve_settled_percent is set. Only changed percentages are
written, so running this twice is harmless.

Without --project every project with participations is recomputed.`,
		Example: `  dealbook participations recompute
  dealbook participations recompute --project "Riverside Lofts"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParticipationsRecompute(cmd.Context(), deps, cmd.OutOrStdout(), projectName)
		},
	}
	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Recompute a single project")
	return cmd
}

// lookupProject resolves an existing project by name. Administrative
// commands never create projects.
func lookupProject(ctx context.Context, s store.Store, cfg *config.Config, name string) (store.Entity, error) {
	policies, err := cfg.Policies()
	if err != nil {
		return store.Entity{}, err
	}
	corrections, err := cfg.Corrections()
	if err != nil {
		return store.Entity{}, err
	}
	resolver := entities.NewResolver(s,
		entities.WithPolicies(policies),
		entities.WithCorrections(corrections))

	policy := resolver.Policy(schema.KindProject)
	policy.OnMiss = entities.StrictLookup
	ref, err := resolver.ResolveWith(ctx, schema.KindProject, name, policy)
	if err != nil {
		return store.Entity{}, err
	}
	if !ref.Found {
		return store.Entity{}, fmt.Errorf("project %q: %w", name, recerrors.ErrNotFound)
	}
	return s.GetEntity(ctx, schema.KindProject, ref.ID)
}

// shareView is the rendered form of one recomputed share.
type shareView struct {
	Project    string `json:"project" yaml:"project"`
	Bank       string `json:"bank" yaml:"bank"`
	Exposure   string `json:"exposure" yaml:"exposure"`
	Settled    bool   `json:"settled" yaml:"settled"`
	Percentage string `json:"percentage" yaml:"percentage"`
	Changed    bool   `json:"changed" yaml:"changed"`
}

type recomputeView struct {
	Projects int         `json:"projects" yaml:"projects"`
	Updated  int         `json:"updated" yaml:"updated"`
	Shares   []shareView `json:"shares" yaml:"shares"`
}

func runParticipationsRecompute(ctx context.Context, deps *Deps, out io.Writer, projectName string) error {
	sess, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	s := sess.backend.Store

	normalizer := participation.NewNormalizer(s,
		participation.WithPreserveSettled(sess.cfg.PreserveSettledPercent),
		participation.WithLogger(sess.logger))

	var results []participation.Result
	if projectName != "" {
		project, err := lookupProject(ctx, s, sess.cfg, projectName)
		if err != nil {
			return err
		}
		res, err := normalizer.RecomputeShares(ctx, project.ID)
		if err != nil {
			return err
		}
		results = []participation.Result{res}
	} else {
		if results, err = normalizer.RecomputeAll(ctx); err != nil {
			return err
		}
	}

	names := entityNames{store: s}
	view := recomputeView{Projects: len(results), Shares: []shareView{}}
	for _, res := range results {
		view.Updated += res.Updated
		for _, sh := range res.Shares {
			view.Shares = append(view.Shares, shareView{
				Project:    names.get(ctx, schema.KindProject, res.ProjectID),
				Bank:       names.get(ctx, schema.KindBank, sh.BankID),
				Exposure:   sh.Exposure.StringFixed(2),
				Settled:    sh.Settled,
				Percentage: sh.Percentage,
				Changed:    sh.Changed,
			})
		}
	}

	return render(out, sess.cfg.OutputFormat, view, func(w io.Writer) error {
		t := newTable(w, "Participation shares")
		t.AppendHeader([]any{"Project", "Bank", "Exposure", "Settled", "Percentage", "Changed"})
		for _, sh := range view.Shares {
			changed := ""
			if sh.Changed {
				changed = "*"
			}
			t.AppendRow([]any{sh.Project, sh.Bank, sh.Exposure, sh.Settled, sh.Percentage, changed})
		}
		t.Render()
		fmt.Fprintf(w, "%d project(s), %d percentage(s) updated\n", view.Projects, view.Updated)
		return nil
	})
}

// entityNames caches entity names for display.
type entityNames struct {
	store store.Store
	names map[string]string
}

func (n *entityNames) get(ctx context.Context, kind schema.Kind, id int64) string {
	key := fmt.Sprintf("%s/%d", kind, id)
	if name, ok := n.names[key]; ok {
		return name
	}
	if n.names == nil {
		n.names = map[string]string{}
	}
	name := fmt.Sprintf("#%d", id)
	if e, err := n.store.GetEntity(ctx, kind, id); err == nil {
		name = e.Name
	}
	n.names[key] = name
	return name
}
