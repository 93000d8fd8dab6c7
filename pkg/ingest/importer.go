package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/entities"
	"github.com/otherjamesbrown/dealbook/pkg/ingest/events"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/participation"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/tabular"
)

// errDryRun rolls back the transaction of a dry run.
var errDryRun = errors.New("dry run")

// RunPublisher announces finished runs.
type RunPublisher interface {
	PublishRunCompleted(ctx context.Context, event events.ImportRunCompletedEvent) error
}

// Importer runs datasets against a store. Rows are processed one at a
// time: a later row may depend on an entity created by an earlier one.
type Importer struct {
	store       store.Store
	catalog     *schema.Catalog
	policies    map[entities.Kind]entities.Policy
	corrections entities.Corrections
	stages      *merge.StageOrder
	shareOpts   []participation.Option
	metrics     *Metrics
	publisher   RunPublisher
	onProgress  func(ProgressSnapshot)
	dryRun      bool
	logger      logging.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithCatalog sets the table catalog.
func WithCatalog(c *schema.Catalog) Option {
	return func(i *Importer) {
		i.catalog = c
	}
}

// WithPolicies sets per-kind resolution policies.
func WithPolicies(p map[entities.Kind]entities.Policy) Option {
	return func(i *Importer) {
		i.policies = p
	}
}

// WithCorrections sets the name-correction table.
func WithCorrections(c entities.Corrections) Option {
	return func(i *Importer) {
		i.corrections = c
	}
}

// WithStageOrder sets the project stage order.
func WithStageOrder(o *merge.StageOrder) Option {
	return func(i *Importer) {
		i.stages = o
	}
}

// WithPreserveSettled keeps stored percentages of paid-off participations
// when shares are recomputed after a run.
func WithPreserveSettled(preserve bool) Option {
	return func(i *Importer) {
		i.shareOpts = append(i.shareOpts, participation.WithPreserveSettled(preserve))
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(i *Importer) {
		i.metrics = m
	}
}

// WithPublisher announces finished runs. Dry runs are not announced.
func WithPublisher(p RunPublisher) Option {
	return func(i *Importer) {
		i.publisher = p
	}
}

// WithProgress reports progress after every row.
func WithProgress(fn func(ProgressSnapshot)) Option {
	return func(i *Importer) {
		i.onProgress = fn
	}
}

// WithDryRun runs inside a transaction that is always rolled back.
func WithDryRun(dryRun bool) Option {
	return func(i *Importer) {
		i.dryRun = dryRun
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(i *Importer) {
		i.logger = logger
	}
}

// NewImporter creates an importer writing to s.
func NewImporter(s store.Store, opts ...Option) *Importer {
	i := &Importer{
		store:    s,
		catalog:  schema.Default(),
		policies: entities.DefaultPolicies(),
		stages:   merge.DefaultStageOrder(),
		logger:   logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(logging.Component("importer"))
	return i
}

// Run imports sources in order and then recomputes participation shares of
// every project the run touched. Recoverable problems are reported in the
// summary; a fatal error stops the run and is returned together with the
// summary so far.
func (i *Importer) Run(ctx context.Context, ds Dataset, sources []Source) (summary *RunSummary, err error) {
	runID := uuid.New().String()
	ctx = logging.ContextWithRun(ctx, runID)
	ctx, span := startRunSpan(ctx, runID, ds.Name, i.dryRun)
	defer func() { endSpan(span, err) }()

	logger := i.logger.WithContext(ctx).With(
		logging.Dataset(ds.Name),
		logging.F("dry_run", i.dryRun))
	summary = newRunSummary(runID, ds.Name, i.dryRun)

	progress := NewProgress(len(sources))
	if i.onProgress != nil {
		progress.SetOnUpdate(i.onProgress)
	}
	progress.Start()

	logger.Info("Import run started", logging.F("sources", len(sources)))

	exec := func(s store.Store) error {
		r := i.newRun(s, ds, progress, logger)
		for _, src := range sources {
			if err := ctx.Err(); err != nil {
				return err
			}
			progress.SetCurrentSource(src.Name)
			fs, err := r.importSource(ctx, src)
			summary.Add(r.target(), fs)
			progress.SourceDone()
			if err != nil {
				return err
			}
		}

		projects := summary.touchedProjects()
		if len(projects) == 0 {
			return nil
		}
		results, err := participation.NewNormalizer(s, append([]participation.Option{participation.WithLogger(logger)}, i.shareOpts...)...).
			RecomputeProjects(ctx, projects)
		if err != nil {
			return fmt.Errorf("recomputing participation shares: %w", err)
		}
		for _, res := range results {
			summary.Recomputed = append(summary.Recomputed, res.ProjectID)
		}
		return nil
	}

	if i.dryRun {
		err = i.store.WithTx(ctx, func(tx store.Store) error {
			if err := exec(tx); err != nil {
				return err
			}
			return errDryRun
		})
		if errors.Is(err, errDryRun) {
			err = nil
		}
	} else {
		err = exec(i.store)
	}
	summary.CompletedAt = time.Now().UTC()

	switch {
	case err == nil:
		progress.Complete(true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		progress.Cancel()
	default:
		progress.Complete(false)
	}

	total := summary.Total()
	fields := []logging.Field{
		logging.F("created", total.Created),
		logging.F("updated", total.Updated),
		logging.F("unchanged", total.Unchanged),
		logging.F("skipped", total.Skipped),
		logging.F("errored", total.Errored),
		logging.F("not_found", len(summary.NotFound)),
		logging.F("regions_not_found", len(summary.RegionsNotFound)),
		logging.F("duration", summary.CompletedAt.Sub(summary.StartedAt).String()),
	}
	if err != nil {
		logger.Error("Import run failed", append(fields, logging.Err(err))...)
		return summary, err
	}
	logger.Info("Import run completed", fields...)

	if i.publisher != nil && !i.dryRun {
		if perr := i.publisher.PublishRunCompleted(ctx, RunCompletedEvent(summary)); perr != nil {
			logger.Warn("Run summary not published", logging.Err(perr))
		}
	}
	return summary, nil
}

// ImportSource imports a single source without the post-run passes.
func (i *Importer) ImportSource(ctx context.Context, ds Dataset, src Source) (*FileSummary, error) {
	r := i.newRun(i.store, ds, nil, i.logger.With(logging.Dataset(ds.Name)))
	fs, err := r.importSource(ctx, src)
	return &fs, err
}

// RunCompletedEvent converts a summary into its published form.
func RunCompletedEvent(s *RunSummary) events.ImportRunCompletedEvent {
	ev := events.ImportRunCompletedEvent{
		BaseEvent:       events.NewBaseEvent("import_run.completed"),
		RunID:           s.RunID,
		Dataset:         s.Dataset,
		DryRun:          s.DryRun,
		SourceCount:     len(s.Sources),
		Counts:          make(map[string]events.TableCounts, len(s.Counts)),
		NotFound:        append([]string{}, s.NotFound...),
		RegionsNotFound: append([]string{}, s.RegionsNotFound...),
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		DurationSeconds: s.CompletedAt.Sub(s.StartedAt).Seconds(),
	}
	for _, fs := range s.Sources {
		ev.SourceHashes = append(ev.SourceHashes, fs.Hash)
	}
	for t, c := range s.Counts {
		ev.Counts[t] = events.TableCounts(c)
	}
	return ev
}

// run holds the per-run collaborators bound to one store.
type run struct {
	ds       Dataset
	fact     schema.FactTable
	entity   schema.EntityTable
	catalog  *schema.Catalog
	resolver *entities.Resolver
	engine   *merge.Engine
	metrics  *Metrics
	progress *Progress
	logger   logging.Logger
}

func (i *Importer) newRun(s store.Store, ds Dataset, progress *Progress, logger logging.Logger) *run {
	r := &run{
		ds:       ds,
		catalog:  i.catalog,
		metrics:  i.metrics,
		progress: progress,
		logger:   logger,
	}
	r.resolver = entities.NewResolver(s,
		entities.WithPolicies(i.policies),
		entities.WithCorrections(i.corrections),
		entities.WithObserver(i.metrics.RecordResolution),
		entities.WithResolverLogger(logger))
	r.engine = merge.NewEngine(s,
		merge.WithStageOrder(i.stages),
		merge.WithCatalog(i.catalog),
		merge.WithEngineLogger(logger))
	if ds.IsEntity() {
		r.entity, _ = i.catalog.Entity(ds.Entity)
	} else {
		r.fact, _ = i.catalog.Fact(ds.Table)
	}
	return r
}

// target names the table counted in summaries.
func (r *run) target() string {
	if r.ds.IsEntity() {
		return r.entity.Table
	}
	return r.fact.Name
}

type rowResult int

const (
	rowWritten rowResult = iota
	rowSkipped
)

func (r *run) importSource(ctx context.Context, src Source) (fs FileSummary, err error) {
	start := time.Now()
	ctx, span := startSourceSpan(ctx, r.ds.Name, src.Name)
	defer func() {
		fs.Duration = time.Since(start)
		r.metrics.ObserveSource(r.ds.Name, fs.Duration.Seconds())
		endSpan(span, err)
	}()

	fs = FileSummary{Source: src.Name, Hash: src.Hash, Dataset: r.ds.Name, HeaderRow: -1}
	logger := r.logger.With(logging.F(logging.KeySource, src.Name))

	loc := r.ds.Locator()
	headerIdx, err := loc.FindHeader(src.Rows)
	if err != nil {
		if recerrors.IsHeaderNotFound(err) {
			fs.RegionNotFound = true
			r.metrics.RecordRegionNotFound(r.ds.Name)
			logger.Warn("Header not found, source skipped", logging.Err(err))
			return fs, nil
		}
		return fs, err
	}
	fs.HeaderRow = headerIdx

	cols := tabular.MapColumns(src.Rows[headerIdx], r.ds.FieldSpecs())
	for _, spec := range r.ds.FieldSpecs() {
		if cols.Index(spec.Name) < 0 {
			fs.Unmapped = append(fs.Unmapped, spec.Name)
		}
	}
	if len(fs.Unmapped) > 0 {
		logger.Debug("Fields without a column", logging.F("fields", fs.Unmapped))
	}

	touched := map[int64]bool{}
	for _, ir := range tabular.DataRows(src.Rows, headerIdx, loc.SkipRow) {
		if err := ctx.Err(); err != nil {
			return fs, err
		}
		fs.Rows++

		outcome, res, rowErr := r.importRow(ctx, ir, cols, &fs, touched)
		switch {
		case rowErr != nil:
			ce := recerrors.Classify(rowErr, r.ds.Name)
			if !recerrors.IsRecoverable(ce.Code) {
				return fs, fmt.Errorf("%s row %d: %w", src.Name, ir.Index+1, rowErr)
			}
			fs.Counts.Errored++
			fs.Errors = append(fs.Errors, RowError{Row: ir.Index + 1, Code: ce.Code, Message: rowErr.Error()})
			r.metrics.RecordRow(r.ds.Name, OutcomeErrored)
			r.recordProgress(func(p *Progress) { p.RecordErrored() })
			logger.Warn("Row failed",
				logging.F("row", ir.Index+1),
				logging.F("code", string(ce.Code)),
				logging.Err(rowErr))
		case res == rowSkipped:
			fs.Counts.Skipped++
			r.metrics.RecordRow(r.ds.Name, OutcomeSkipped)
			r.recordProgress(func(p *Progress) { p.RecordSkipped() })
		default:
			fs.Counts.record(outcome)
			r.metrics.RecordRow(r.ds.Name, outcome.String())
			r.recordProgress(func(p *Progress) { p.RecordOutcome(outcome) })
		}
	}

	for id := range touched {
		fs.Projects = append(fs.Projects, id)
	}
	sort.Slice(fs.Projects, func(a, b int) bool { return fs.Projects[a] < fs.Projects[b] })

	logger.Info("Source imported",
		logging.F("rows", fs.Rows),
		logging.F("created", fs.Counts.Created),
		logging.F("updated", fs.Counts.Updated),
		logging.F("unchanged", fs.Counts.Unchanged),
		logging.F("skipped", fs.Counts.Skipped),
		logging.F("errored", fs.Counts.Errored),
		logging.F("hash", fs.Hash))
	return fs, nil
}

func (r *run) recordProgress(fn func(*Progress)) {
	if r.progress != nil {
		fn(r.progress)
	}
}

func (r *run) importRow(ctx context.Context, ir tabular.IndexedRow, cols tabular.ColumnMap, fs *FileSummary, touched map[int64]bool) (merge.Outcome, rowResult, error) {
	if r.ds.IsEntity() {
		return r.importEntityRow(ctx, ir, cols, fs)
	}
	return r.importFactRow(ctx, ir, cols, fs, touched)
}

func (r *run) importEntityRow(ctx context.Context, ir tabular.IndexedRow, cols tabular.ColumnMap, fs *FileSummary) (merge.Outcome, rowResult, error) {
	name, _ := cols.Value(ir.Row, NameColumn)
	if name == "" {
		return merge.Unchanged, rowSkipped, nil
	}

	policy := r.resolver.Policy(r.ds.Entity)
	policy.OnMiss = entities.CreateIfMissing
	ref, err := r.resolver.ResolveWith(ctx, r.ds.Entity, name, policy)
	if err != nil {
		return merge.Unchanged, rowSkipped, err
	}

	candidate := store.Row{}
	for _, f := range r.ds.Fields {
		if f.Column == NameColumn {
			continue
		}
		col, _ := r.entity.Column(f.Column)
		raw, _ := cols.Value(ir.Row, f.key())
		candidate[f.Column] = r.value(f, col.Kind, raw, ir, fs)
	}
	r.applySection(candidate, ir.Section)
	r.applyDefaults(candidate, func(f Field) normalize.Kind {
		col, _ := r.entity.Column(f.Column)
		return col.Kind
	})

	outcome, err := r.engine.MergeEntity(ctx, r.ds.Entity, ref.ID, candidate)
	if err != nil {
		return merge.Unchanged, rowSkipped, err
	}
	if ref.Created {
		outcome = merge.Created
	}
	return outcome, rowWritten, nil
}

func (r *run) importFactRow(ctx context.Context, ir tabular.IndexedRow, cols tabular.ColumnMap, fs *FileSummary, touched map[int64]bool) (merge.Outcome, rowResult, error) {
	t := r.fact
	candidate := store.Row{}
	attrs := map[string]store.Row{}

	for _, f := range r.ds.Fields {
		if f.Of != "" {
			continue
		}
		kind, isRef := referenceKind(t, f.Column)
		if !isRef {
			continue
		}
		raw, _ := cols.Value(ir.Row, f.key())
		if raw == "" {
			raw = f.Default
		}
		ref, err := r.resolver.Resolve(ctx, kind, raw)
		if err != nil {
			return merge.Unchanged, rowSkipped, err
		}
		if !ref.Found {
			if ref.Name != "" {
				fs.NotFound = append(fs.NotFound, Miss{Kind: kind, Name: ref.Name})
			}
			if f.Column == t.Owner.Column || t.IsKey(f.Column) {
				r.logger.Debug("Row skipped, unresolved reference",
					logging.F("row", ir.Index+1),
					logging.F("column", f.Column),
					logging.F("name", raw))
				return merge.Unchanged, rowSkipped, nil
			}
		}
		candidate[f.Column] = ref.Value()
	}

	for _, f := range r.ds.Fields {
		raw, _ := cols.Value(ir.Row, f.key())
		if f.Of != "" {
			kind, _ := referenceKind(t, f.Of)
			et, _ := r.catalog.Entity(kind)
			col, _ := et.Column(f.Column)
			if attrs[f.Of] == nil {
				attrs[f.Of] = store.Row{}
			}
			attrs[f.Of][f.Column] = r.value(f, col.Kind, raw, ir, fs)
			continue
		}
		if _, isRef := referenceKind(t, f.Column); isRef {
			continue
		}
		col, _ := t.Column(f.Column)
		v := r.value(f, col.Kind, raw, ir, fs)
		if v.IsAbsent() && f.Fallback != "" && !normalize.IsPlaceholder(raw) {
			candidate[f.Fallback] = normalize.NormalizeText(raw)
		}
		candidate[f.Column] = v
	}
	r.applySection(candidate, ir.Section)
	r.applyDefaults(candidate, func(f Field) normalize.Kind {
		col, _ := t.Column(f.Column)
		return col.Kind
	})

	if _, ok := store.NaturalKey(t, candidate); !ok {
		r.logger.Debug("Row skipped, incomplete natural key",
			logging.F("row", ir.Index+1),
			logging.F("key", t.NaturalKey))
		return merge.Unchanged, rowSkipped, nil
	}

	for refCol, attr := range attrs {
		id, ok := candidate.ID(refCol)
		if !ok || len(attr.Present()) == 0 {
			continue
		}
		kind, _ := referenceKind(t, refCol)
		if _, err := r.engine.MergeEntity(ctx, kind, id, attr); err != nil {
			return merge.Unchanged, rowSkipped, err
		}
	}

	outcome, err := r.engine.UpsertFact(ctx, t.Name, candidate)
	if err != nil {
		return merge.Unchanged, rowSkipped, err
	}
	if t.Name == participation.Table {
		if pid, ok := candidate.ID("project_id"); ok {
			touched[pid] = true
		}
	}
	return outcome, rowWritten, nil
}

// value normalizes one cell. Cells that are neither blank, a placeholder
// nor parseable count as parse warnings unless the field has a fallback.
func (r *run) value(f Field, kind normalize.Kind, raw string, ir tabular.IndexedRow, fs *FileSummary) normalize.Value {
	if raw == "" {
		return normalize.Absent()
	}
	v := normalize.Coerce(kind, raw)
	if v.IsAbsent() && f.Fallback == "" && !normalize.IsPlaceholder(raw) {
		fs.ParseWarnings++
		r.logger.Debug("Cell not parsed",
			logging.F("row", ir.Index+1),
			logging.F("field", f.key()),
			logging.F("kind", kind.String()),
			logging.F("raw", raw))
	}
	return v
}

func (r *run) applySection(candidate store.Row, section string) {
	if section == "" {
		return
	}
	for col, v := range r.ds.SectionValues[strings.ToLower(section)] {
		if candidate.Get(col).IsAbsent() {
			candidate[col] = v
		}
	}
}

func (r *run) applyDefaults(candidate store.Row, kindOf func(Field) normalize.Kind) {
	for _, f := range r.ds.Fields {
		if f.Default == "" || f.Of != "" {
			continue
		}
		if _, isRef := referenceKind(r.fact, f.Column); isRef {
			continue
		}
		if candidate.Get(f.Column).IsAbsent() {
			candidate[f.Column] = normalize.Coerce(kindOf(f), f.Default)
		}
	}
}
