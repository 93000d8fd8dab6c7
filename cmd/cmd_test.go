package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/pkg/ingest/events"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/store/memstore"
)

const participationsCSV = `Bank Participations - Q1 2025,,,
,,,
Project,Bank,Exposure,Percentage
Active,,,
Alpha,First Horizon Bank,"$400,000",
Alpha,Regions,"300,000",
Alpha,Pinnacle,300000,
Waterpointe,Regions,"125,000",
Paid Off,,,
Alpha,Old National,"50,000",99.0%
`

// fakePublisher records published events.
type fakePublisher struct {
	runs      []events.ImportRunCompletedEvent
	collapses []events.DuplicatesCollapsedEvent
	closed    bool
}

func (p *fakePublisher) PublishRunCompleted(ctx context.Context, ev events.ImportRunCompletedEvent) error {
	p.runs = append(p.runs, ev)
	return nil
}

func (p *fakePublisher) PublishDuplicatesCollapsed(ctx context.Context, ev events.DuplicatesCollapsedEvent) error {
	p.collapses = append(p.collapses, ev)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type testEnv struct {
	store *memstore.Store
	cfg   *config.Config
	pub   *fakePublisher
	deps  *Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: memstore.New(nil),
		cfg:   config.DefaultConfig(),
		pub:   &fakePublisher{},
	}
	env.deps = &Deps{
		LoadConfig: func() (*config.Config, error) { return env.cfg, nil },
		OpenBackend: func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backend, error) {
			return &Backend{Store: env.store}, nil
		},
		OpenPool: func(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
			return nil, errors.New("no database in tests")
		},
		OpenPublisher: func(cfg *config.Config, logger logging.Logger) (Publisher, error) {
			return env.pub, nil
		},
		Logger: logging.NewNopLogger,
		Stdin:  strings.NewReader(""),
	}
	return env
}

func (e *testEnv) seed(t *testing.T, kind schema.Kind, name string) int64 {
	t.Helper()
	ent, err := e.store.CreateEntity(context.Background(), kind, name, nil)
	require.NoError(t, err)
	return ent.ID
}

// execute runs c with args and returns stdout.
func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(io.Discard)
	c.SetArgs(args)
	c.SetContext(context.Background())
	err := c.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

type runSummaryJSON struct {
	RunID    string                    `json:"run_id"`
	DryRun   bool                      `json:"dry_run"`
	Counts   map[string]map[string]int `json:"counts"`
	NotFound []string                  `json:"not_found"`
	Sources  []struct {
		Source string `json:"source"`
		Hash   string `json:"hash"`
	} `json:"sources"`
}

func TestImportCommand_JSONSummary(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	env.seed(t, schema.KindProject, "Alpha")
	path := writeFile(t, "q1.csv", participationsCSV)

	out, err := execute(t, NewImportCommand(env.deps), "participations", path)
	require.NoError(t, err)

	var summary runSummaryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.DryRun)
	assert.Equal(t, 4, summary.Counts["participations"]["created"])
	assert.Equal(t, 1, summary.Counts["participations"]["skipped"])
	assert.Equal(t, []string{"project: Waterpointe"}, summary.NotFound)
	require.Len(t, summary.Sources, 1)
	assert.Equal(t, path, summary.Sources[0].Source)
	assert.Len(t, summary.Sources[0].Hash, 32)

	require.Len(t, env.pub.runs, 1)
	assert.True(t, env.pub.closed)
	assert.Equal(t, 4, env.store.Counts()["participations"])
}

func TestImportCommand_TextSummary(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, schema.KindProject, "Alpha")
	path := writeFile(t, "q1.csv", participationsCSV)

	out, err := execute(t, NewImportCommand(env.deps), "participations", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Import participations")
	assert.Contains(t, out, "project: Waterpointe")
	assert.Contains(t, out, "Recomputed projects: 1")
}

func TestImportCommand_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	env.seed(t, schema.KindProject, "Alpha")
	before := env.store.Counts()
	path := writeFile(t, "q1.csv", participationsCSV)

	out, err := execute(t, NewImportCommand(env.deps), "participations", path, "--dry-run")
	require.NoError(t, err)

	var summary runSummaryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.True(t, summary.DryRun)
	assert.Equal(t, 4, summary.Counts["participations"]["created"])
	assert.Equal(t, before, env.store.Counts())
	assert.Empty(t, env.pub.runs, "dry runs are not published")
}

func TestImportCommand_Paste(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	env.deps.Stdin = strings.NewReader("Project Name\tCity\tUnits\nUnder Construction\t\t\nAlpha\tNashville\t240\n")

	_, err := execute(t, NewImportCommand(env.deps), "projects", "--paste", "--paste-name", "clipboard")
	require.NoError(t, err)

	found, err := env.store.FindEntities(context.Background(), schema.KindProject, "Alpha", store.MatchExact)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Nashville", found[0].Fields.Get("city").String())
	assert.Equal(t, "Under Construction", found[0].Fields.Get("stage").String())
}

func TestImportCommand_MetricsFile(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, schema.KindProject, "Alpha")
	path := writeFile(t, "q1.csv", participationsCSV)
	metrics := filepath.Join(t.TempDir(), "dealbook.prom")

	_, err := execute(t, NewImportCommand(env.deps), "participations", path, "--metrics-file", metrics)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dealbook_import_records_total{dataset="participations",outcome="created"} 4`)
	assert.Contains(t, string(data), "dealbook_entity_resolutions_total")
}

func TestImportCommand_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(t, NewImportCommand(env.deps), "participations")
	assert.ErrorContains(t, err, "no input")

	_, err = execute(t, NewImportCommand(env.deps), "widgets", writeFile(t, "x.csv", "a,b\n"))
	assert.ErrorContains(t, err, `dataset "widgets"`)

	_, err = execute(t, NewImportCommand(env.deps))
	assert.Error(t, err, "dataset argument is required")
}

func seedShares(t *testing.T, env *testEnv) int64 {
	t.Helper()
	ctx := context.Background()
	project := env.seed(t, schema.KindProject, "Riverside Lofts")
	for bank, exposure := range map[string]string{"Pinnacle": "750000", "Regions": "250000"} {
		bankID := env.seed(t, schema.KindBank, bank)
		_, err := env.store.InsertFact(ctx, "participations", store.Row{
			"project_id": normalize.IntegerOf(project),
			"bank_id":    normalize.IntegerOf(bankID),
			"exposure":   normalize.NormalizeAmount(exposure),
		})
		require.NoError(t, err)
	}
	return project
}

func TestParticipationsRecompute(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	seedShares(t, env)

	out, err := execute(t, NewParticipationsCommand(env.deps), "recompute", "--project", "riverside lofts")
	require.NoError(t, err)

	var view recomputeView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 1, view.Projects)
	assert.Equal(t, 2, view.Updated)

	got := map[string]string{}
	for _, sh := range view.Shares {
		assert.Equal(t, "Riverside Lofts", sh.Project)
		got[sh.Bank] = sh.Percentage
	}
	assert.Equal(t, map[string]string{"Pinnacle": "75.0%", "Regions": "25.0%"}, got)

	// A second pass changes nothing.
	out, err = execute(t, NewParticipationsCommand(env.deps), "recompute")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 0, view.Updated)
}

func TestParticipationsRecompute_UnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, NewParticipationsCommand(env.deps), "recompute", "--project", "Nowhere")
	assert.ErrorContains(t, err, `project "Nowhere"`)
}

func TestDedupeCommand(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	require.NoError(t, env.store.Import(memstore.Snapshot{
		Entities: []store.Entity{
			{Kind: schema.KindBank, ID: 1, Name: "Pinnacle Bank"},
			{Kind: schema.KindBank, ID: 2, Name: "PINNACLE  BANK"},
			{Kind: schema.KindBank, ID: 3, Name: "Regions"},
		},
	}))

	out, err := execute(t, NewDedupeCommand(env.deps), "bank", "--dry-run")
	require.NoError(t, err)
	var view dedupeView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.True(t, view.DryRun)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, 0, view.Deleted)
	assert.Equal(t, 3, env.store.Counts()["banks"])
	assert.Empty(t, env.pub.collapses)

	out, err = execute(t, NewDedupeCommand(env.deps), "bank")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 1, view.Deleted)
	assert.Equal(t, 2, env.store.Counts()["banks"])

	require.Len(t, env.pub.collapses, 1)
	assert.Equal(t, "bank", env.pub.collapses[0].Kind)
	assert.Equal(t, 1, env.pub.collapses[0].Deleted)
}

func TestDedupeCommand_UnknownKind(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, NewDedupeCommand(env.deps), "widget")
	assert.Error(t, err)
}

func TestProjectSet_OverwritesStageBackwards(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatJSON
	ctx := context.Background()
	id := env.seed(t, schema.KindProject, "Riverside Lofts")
	require.NoError(t, env.store.UpdateEntity(ctx, schema.KindProject, id, store.Row{
		"stage": normalize.TextOf("Stabilized"),
		"notes": normalize.TextOf("old note"),
	}))

	out, err := execute(t, NewProjectCommand(env.deps), "set", "Riverside Lofts",
		"stage=Pre-Construction", "total_cost=$48,500,000", "notes=")
	require.NoError(t, err)

	var view projectView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "updated", view.Outcome)
	assert.Equal(t, "Pre-Construction", view.Fields["stage"])
	assert.NotContains(t, view.Fields, "notes")

	p, err := env.store.GetEntity(ctx, schema.KindProject, id)
	require.NoError(t, err)
	assert.Equal(t, "Pre-Construction", p.Fields.Get("stage").String())
	assert.True(t, p.Fields.Get("notes").IsAbsent())
	amount, ok := p.Fields.Get("total_cost").Amount()
	require.True(t, ok)
	assert.Equal(t, "48500000", amount.String())
}

func TestProjectSet_Invalid(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, schema.KindProject, "Riverside Lofts")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing equals", []string{"set", "Riverside Lofts", "stage"}, "expected field=value"},
		{"unknown field", []string{"set", "Riverside Lofts", "color=red"}, `unknown project field "color"`},
		{"unparseable", []string{"set", "Riverside Lofts", "closing_date=soon"}, "cannot parse"},
		{"unknown project", []string{"set", "Nowhere", "city=Austin"}, `project "Nowhere"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewProjectCommand(env.deps), tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestProjectShow(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, schema.KindProject, "Riverside Lofts")
	require.NoError(t, env.store.UpdateEntity(context.Background(), schema.KindProject, id, store.Row{
		"city": normalize.TextOf("Nashville"),
	}))

	out, err := execute(t, NewProjectCommand(env.deps), "show", "RIVERSIDE LOFTS")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside Lofts (#1)")
	assert.Contains(t, out, "Nashville")
}

func TestDatasetsCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, NewDatasetsCommand(env.deps))
	require.NoError(t, err)
	for _, name := range []string{"participations", "loans", "projects", "bank_targets"} {
		assert.Contains(t, out, name)
	}

	env.cfg.OutputFormat = config.OutputFormatJSON
	env.cfg.ColumnAliases = map[string]map[string][]string{
		"participations": {"exposure": {"Commitment"}},
	}
	out, err = execute(t, NewDatasetsCommand(env.deps), "participations")
	require.NoError(t, err)

	var views []datasetView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "participations", views[0].Target)
	for _, f := range views[0].Fields {
		if f.Field == "exposure" {
			assert.Equal(t, "Commitment", f.Aliases[0])
		}
	}
}

func TestDatasetsCommand_AllAsYAML(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OutputFormat = config.OutputFormatYAML

	out, err := execute(t, NewDatasetsCommand(env.deps))
	require.NoError(t, err)
	assert.Contains(t, out, "- name: bank_targets")
}

func TestDbCommand_HasSubcommands(t *testing.T) {
	c := NewDbCommand(newTestEnv(t).deps)

	for _, name := range []string{"migrate", "status", "health"} {
		sub, _, err := c.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
		assert.NotEmpty(t, sub.Short)
	}

	migrate, _, err := c.Find([]string{"migrate"})
	require.NoError(t, err)
	assert.NotNil(t, migrate.Flags().Lookup("dry-run"))
	assert.NotNil(t, migrate.Flags().Lookup("yes"))
}

func TestDbCommand_ConnectionErrorSurfaces(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, NewDbCommand(env.deps), "status")
	assert.ErrorContains(t, err, "no database in tests")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, NewVersionCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "dealbook version dev")
}
