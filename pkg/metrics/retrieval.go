package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initRetrievalMetrics registers the retrieval and assembly collectors.
func (m *Manager) initRetrievalMetrics(cfg Config) {
	f := promauto.With(m.registry)
	m.retrievalDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Semantic retrieval duration.",
		Buckets:   cfg.RetrievalDurationBuckets,
	}, []string{"status"})
	m.retrievalDegraded = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_degraded_total",
		Help:      "Assemblies that proceeded without semantic memories.",
	}, []string{"reason"})
	m.budgetUtilization = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "assembly_budget_utilization_ratio",
		Help:      "Fraction of the context budget used by a bundle.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"unit"})
	m.bundleItems = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "assembly_items",
		Help:      "Items per tier in a bundle.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	}, []string{"tier"})
}

// RecordRetrieval records a semantic retrieval call.
func (m *Manager) RecordRetrieval(ctx context.Context, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	observeWithExemplar(ctx, m.retrievalDuration.WithLabelValues(status), duration.Seconds())
}

// RecordRetrievalDegraded records an assembly without semantic memories.
func (m *Manager) RecordRetrievalDegraded(reason string) {
	if !m.Enabled() {
		return
	}
	m.retrievalDegraded.WithLabelValues(reason).Inc()
}

// RecordBundle records the budget utilization and tier sizes of a bundle.
func (m *Manager) RecordBundle(unit string, used, total int, tiers map[string]int) {
	if !m.Enabled() {
		return
	}
	if total > 0 {
		m.budgetUtilization.WithLabelValues(unit).Observe(float64(used) / float64(total))
	}
	for tier, n := range tiers {
		m.bundleItems.WithLabelValues(tier).Observe(float64(n))
	}
}
