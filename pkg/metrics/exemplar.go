package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// traceExemplarLabels links a sample to the active trace, if any.
func traceExemplarLabels(ctx context.Context) (prometheus.Labels, bool) {
	if ctx == nil {
		return nil, false
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return nil, false
	}
	return prometheus.Labels{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	}, true
}

// observeWithExemplar records v on o, attaching the trace of ctx when the
// observer supports exemplars.
func observeWithExemplar(ctx context.Context, o prometheus.Observer, v float64) {
	if labels, ok := traceExemplarLabels(ctx); ok {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, labels)
			return
		}
	}
	o.Observe(v)
}
