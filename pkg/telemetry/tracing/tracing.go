// Package tracing wires process-wide OpenTelemetry tracing and the span
// helpers used around assembly, generation, scoring and extraction.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/storyloom/storyloom/config"
)

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

func installPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Init installs the global tracer provider described by cfg. A disabled
// config installs a no-op provider and never contacts a collector.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (ShutdownFunc, error) {
	installPropagator()
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	build, ok := exporters[kind]
	if !ok {
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}
	endpoint := hostPort(cfg.Endpoint)
	switch {
	case endpoint == "":
		return nil, errors.New("tracing: endpoint is required")
	case cfg.Timeout <= 0:
		return nil, errors.New("tracing: timeout must be positive")
	}

	exp, err := build(ctx, endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", kind, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&lenientExporter{next: exp, kind: kind, endpoint: endpoint}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		flushErr := tp.ForceFlush(ctx)
		if err := tp.Shutdown(ctx); err != nil {
			return errors.Join(flushErr, fmt.Errorf("tracing: shutdown provider: %w", err))
		}
		if flushErr != nil {
			return fmt.Errorf("tracing: flush provider: %w", flushErr)
		}
		return nil
	}, nil
}

var samplers = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":    func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off":   func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": sdktrace.TraceIDRatioBased,
}

// selectSampler maps the sampler name; anything else follows the parent
// span and samples new roots by ratio.
func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	if s, ok := samplers[strings.ToLower(strings.TrimSpace(cfg.Sampler))]; ok {
		return s(cfg.SamplerRatio)
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))
}
