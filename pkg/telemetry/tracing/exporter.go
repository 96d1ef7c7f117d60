package tracing

import (
	"context"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/logger"
)

type exporterFactory func(ctx context.Context, endpoint string, cfg config.TracingConfig) (sdktrace.SpanExporter, error)

// exporters by config name.
var exporters = map[string]exporterFactory{
	"otlp": newOTLPExporter,
}

func newOTLPExporter(ctx context.Context, endpoint string, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// exportFailed is called for every batch the collector rejects.
var exportFailed = func(err error, kind, endpoint string, spans int) {
	logger.Warn("tracing export failed",
		"error", err,
		"exporter", kind,
		"endpoint", endpoint,
		"span_count", spans,
	)
}

// lenientExporter drops batches the collector rejects so a collector outage
// never surfaces as an error inside a generation.
type lenientExporter struct {
	next     sdktrace.SpanExporter
	kind     string
	endpoint string
}

func (e *lenientExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.next.ExportSpans(ctx, spans); err != nil {
		exportFailed(err, e.kind, e.endpoint, len(spans))
	}
	return nil
}

func (e *lenientExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// hostPort reduces a collector URL such as http://otel:4317/v1/traces to
// the host:port the gRPC exporter dials.
func hostPort(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
