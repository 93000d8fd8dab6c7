package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer used for import spans.
const TracerName = "github.com/otherjamesbrown/dealbook/pkg/ingest"

// Span names
const (
	SpanRun    = "ingest.run"
	SpanSource = "ingest.source"
)

// Span attribute keys
const (
	AttrRunID   = "run_id"
	AttrDataset = "dataset"
	AttrSource  = "source"
	AttrDryRun  = "dry_run"
	AttrRows    = "rows"
)

func startRunSpan(ctx context.Context, runID, dataset string, dryRun bool) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrDataset, dataset),
			attribute.Bool(AttrDryRun, dryRun),
		),
	)
}

func startSourceSpan(ctx context.Context, dataset, source string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, SpanSource,
		trace.WithAttributes(
			attribute.String(AttrDataset, dataset),
			attribute.String(AttrSource, source),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
