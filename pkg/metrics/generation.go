package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeFlagged    = "flagged"
	OutcomeRegenerate = "regenerate"
	OutcomeFailed     = "failed"
)

// initGenerationMetrics registers the generation collectors.
func (m *Manager) initGenerationMetrics(cfg Config) {
	f := promauto.With(m.registry)
	m.generationAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_attempts_total",
		Help:      "Generation attempts by outcome.",
	}, []string{"outcome"})
	m.generationDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Duration of whole Generate calls.",
		Buckets:   cfg.GenerationDurationBuckets,
	}, []string{"outcome"})
	m.generationActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generation_active",
		Help:      "In-flight generations.",
	})
	m.storyBusy = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "story_busy_total",
		Help:      "Generations rejected because the story was already generating.",
	})
	m.providerRetries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_retries_total",
		Help:      "Retried generative service calls by operation.",
	}, []string{"operation"})
}

// RecordGenerationAttempt records the outcome of one attempt.
func (m *Manager) RecordGenerationAttempt(outcome string) {
	if !m.Enabled() {
		return
	}
	m.generationAttempts.WithLabelValues(outcome).Inc()
}

// RecordGenerationDuration records the duration of a whole Generate call.
func (m *Manager) RecordGenerationDuration(ctx context.Context, outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	observeWithExemplar(ctx, m.generationDuration.WithLabelValues(outcome), duration.Seconds())
}

// IncActiveGenerations increments the in-flight generation gauge.
func (m *Manager) IncActiveGenerations() {
	if !m.Enabled() {
		return
	}
	m.generationActive.Inc()
}

// DecActiveGenerations decrements the in-flight generation gauge.
func (m *Manager) DecActiveGenerations() {
	if !m.Enabled() {
		return
	}
	m.generationActive.Dec()
}

// RecordStoryBusy records a rejected concurrent generation.
func (m *Manager) RecordStoryBusy() {
	if !m.Enabled() {
		return
	}
	m.storyBusy.Inc()
}

// RecordProviderRetry records a retried generative call.
func (m *Manager) RecordProviderRetry(operation string) {
	if !m.Enabled() {
		return
	}
	m.providerRetries.WithLabelValues(operation).Inc()
}
