package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Extraction outcomes.
const (
	ExtractionApplied = "applied"
	ExtractionSkipped = "skipped"
	ExtractionFailed  = "failed"
	ExtractionQueued  = "queued"
	ExtractionDropped = "dropped"
)

func (m *Manager) initExtractionMetrics(cfg Config) {
	f := promauto.With(m.registry)
	m.extractionOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_total",
		Help:      "Memory extraction runs by outcome.",
	}, []string{"outcome"})
	m.extractionDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_duration_seconds",
		Help:      "Memory extraction duration by strategy.",
		Buckets:   cfg.ExtractionDurationBuckets,
	}, []string{"strategy"})
	m.extractedEntries = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extracted_entries_total",
		Help:      "Memory entries written by extraction.",
	})
}

// RecordExtraction records an extraction outcome.
func (m *Manager) RecordExtraction(outcome string) {
	if !m.Enabled() {
		return
	}
	m.extractionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordExtractionDuration records extraction duration and the entries written.
func (m *Manager) RecordExtractionDuration(strategy string, duration time.Duration, entries int) {
	if !m.Enabled() {
		return
	}
	m.extractionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.extractedEntries.Add(float64(entries))
}
