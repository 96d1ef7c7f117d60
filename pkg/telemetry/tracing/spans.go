package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every storyloom span.
const TracerName = "storyloom.engine"

// Span names.
const (
	SpanGenerate = "story.generate"
	SpanAttempt  = "story.generate.attempt"
	SpanAssemble = "story.assemble"
	SpanRetrieve = "story.retrieve"
	SpanScore    = "story.score"
	SpanExtract  = "story.extract"
)

// Tracer returns the storyloom tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span tagged with the story id.
func StartSpan(ctx context.Context, name, storyID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("story.id", storyID))
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
