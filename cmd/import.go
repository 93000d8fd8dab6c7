package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/pkg/db"
	"github.com/otherjamesbrown/dealbook/pkg/ingest"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
)

type importOptions struct {
	paste       bool
	pasteName   string
	dryRun      bool
	metricsFile string
	progress    bool
}

// NewImportCommand creates the import command.
func NewImportCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <dataset> [files...]",
		Short: "Import spreadsheet exports into the dealbook",
		Long: `Import one or more exported spreadsheets into the dealbook.

Each file is tokenized (CSV, TSV or .xlsx), its header row located by the
dataset's signatures, and every data row normalized, resolved against
existing projects, banks, people and equity partners, and merged.

Directories are walked for .csv, .tsv, .txt and .xlsx files. Files are
processed in order; a later file sees everything an earlier file
created. Participation percentages of every touched project are recomputed
after the last file.

Use --paste to read a tab-separated block copied out of a spreadsheet from
stdin. Use --dry-run to run the whole import in a transaction that is rolled
back at the end.

Run 'dealbook datasets' to list the datasets and their header aliases.`,
		Example: `  dealbook import participations exports/participations-q3.csv
  dealbook import loans loans.xlsx --dry-run
  dealbook import covenants ./exports/covenants/
  pbpaste | dealbook import projects --paste
  dealbook import guarantees g1.csv g2.csv --metrics-file /var/lib/node_exporter/dealbook.prom`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), deps, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], args[1:], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.paste, "paste", false, "Read a tab-separated block from stdin")
	cmd.Flags().StringVar(&opts.pasteName, "paste-name", "paste", "Source name recorded for the pasted block")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the import and roll it back")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Report progress on stderr (default when stderr is a terminal)")

	return cmd
}

func loadSources(deps *Deps, files []string, opts importOptions) ([]ingest.Source, error) {
	files, err := ingest.DiscoverFiles(files...)
	if err != nil {
		return nil, err
	}

	var sources []ingest.Source
	for _, f := range files {
		src, err := ingest.LoadFile(f)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if opts.paste {
		src, err := ingest.LoadPaste(opts.pasteName, deps.Stdin)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, errors.New("no input: pass files or --paste")
	}
	return sources, nil
}

// importerOptions builds the importer options every command shares from
// the configuration.
func importerOptions(cfg *config.Config) ([]ingest.Option, error) {
	policies, err := cfg.Policies()
	if err != nil {
		return nil, err
	}
	corrections, err := cfg.Corrections()
	if err != nil {
		return nil, err
	}
	stages, err := cfg.Stages()
	if err != nil {
		return nil, err
	}
	return []ingest.Option{
		ingest.WithPolicies(policies),
		ingest.WithCorrections(corrections),
		ingest.WithStageOrder(stages),
		ingest.WithPreserveSettled(cfg.PreserveSettledPercent),
	}, nil
}

func runImport(ctx context.Context, deps *Deps, out, errOut io.Writer, datasetName string, files []string, opts importOptions) error {
	sess, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	cfg := sess.cfg

	registry, err := ingest.DefaultRegistry(cfg.ColumnAliases)
	if err != nil {
		return err
	}
	ds, err := registry.Lookup(datasetName)
	if err != nil {
		return err
	}

	sources, err := loadSources(deps, files, opts)
	if err != nil {
		return err
	}

	importOpts, err := importerOptions(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	importOpts = append(importOpts,
		ingest.WithMetrics(ingest.NewMetrics(reg)),
		ingest.WithDryRun(opts.dryRun),
		ingest.WithLogger(sess.logger))

	if sess.backend.Pool != nil {
		if _, err := db.RegisterPoolStatsCollector(sess.backend.Pool, "dealbook", cfg.Database.DB().Database, reg); err != nil {
			return err
		}
	}

	if !opts.dryRun {
		pub, err := deps.OpenPublisher(cfg, sess.logger)
		if err != nil {
			sess.logger.Warn("Run summaries will not be published", logging.Err(err))
		} else if pub != nil {
			defer pub.Close()
			importOpts = append(importOpts, ingest.WithPublisher(pub))
		}
	}

	if opts.progress || isTerminal(errOut) {
		importOpts = append(importOpts, ingest.WithProgress(progressPrinter(errOut)))
	}

	summary, runErr := ingest.NewImporter(sess.backend.Store, importOpts...).Run(ctx, ds, sources)

	if opts.metricsFile != "" {
		if err := ingest.WriteTextfile(reg, opts.metricsFile); err != nil {
			return err
		}
	}

	if summary != nil {
		if err := render(out, cfg.OutputFormat, summary, func(w io.Writer) error {
			return printRunSummary(w, summary)
		}); err != nil {
			return err
		}
	}
	return runErr
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter prints one line per finished source.
func progressPrinter(w io.Writer) func(ingest.ProgressSnapshot) {
	done := 0
	return func(s ingest.ProgressSnapshot) {
		if s.ProcessedSources == done {
			return
		}
		done = s.ProcessedSources
		fmt.Fprintf(w, "[%d/%d] %3.0f%% rows=%d created=%d updated=%d skipped=%d errored=%d\n",
			s.ProcessedSources, s.TotalSources, s.PercentComplete(),
			s.RowsProcessed, s.Created, s.Updated, s.Skipped, s.Errored)
	}
}

func printRunSummary(w io.Writer, s *ingest.RunSummary) error {
	title := fmt.Sprintf("Import %s (run %s)", s.Dataset, s.RunID)
	if s.DryRun {
		title += " [dry run, rolled back]"
	}

	t := newTable(w, title)
	t.AppendHeader([]any{"Table", "Created", "Updated", "Unchanged", "Skipped", "Errored"})
	for _, target := range s.Targets() {
		c := s.Counts[target]
		t.AppendRow([]any{target, c.Created, c.Updated, c.Unchanged, c.Skipped, c.Errored})
	}
	total := s.Total()
	t.AppendFooter([]any{"Total", total.Created, total.Updated, total.Unchanged, total.Skipped, total.Errored})
	t.Render()

	src := newTable(w, "Sources")
	src.AppendHeader([]any{"Source", "Hash", "Header row", "Rows", "Parse warnings", "Duration"})
	for _, fs := range s.Sources {
		header := any(fs.HeaderRow + 1)
		if fs.RegionNotFound {
			header = "not found"
		}
		src.AppendRow([]any{fs.Source, fs.Hash, header, fs.Rows, fs.ParseWarnings, fs.Duration.Round(time.Millisecond).String()})
	}
	src.Render()

	var rowErrors []string
	for _, fs := range s.Sources {
		for _, e := range fs.Errors {
			rowErrors = append(rowErrors, fmt.Sprintf("%s row %d [%s]: %s", fs.Source, e.Row, e.Code, e.Message))
		}
	}
	sort.Strings(rowErrors)

	fmt.Fprintf(w, "Not found:          %s\n", joinOrDash(s.NotFound))
	fmt.Fprintf(w, "Regions not found:  %s\n", joinOrDash(s.RegionsNotFound))
	fmt.Fprintf(w, "Recomputed projects: %s\n", joinOrDash(int64s(s.Recomputed)))
	for _, e := range rowErrors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}
