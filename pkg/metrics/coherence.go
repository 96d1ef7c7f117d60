package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (m *Manager) initCoherenceMetrics(cfg Config) {
	f := promauto.With(m.registry)
	m.coherenceScore = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "coherence_score",
		Help:      "Coherence scores of generated chapters by axis.",
		Buckets:   cfg.ScoreBuckets,
	}, []string{"axis"})
	m.coherenceIssues = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coherence_issues_total",
		Help:      "Coherence issues by type and severity.",
	}, []string{"type", "severity"})
}

// RecordCoherenceScore records one axis score (or "overall").
func (m *Manager) RecordCoherenceScore(axis string, score float64) {
	if !m.Enabled() {
		return
	}
	m.coherenceScore.WithLabelValues(axis).Observe(score)
}

// RecordCoherenceIssue records a raised issue.
func (m *Manager) RecordCoherenceIssue(issueType, severity string) {
	if !m.Enabled() {
		return
	}
	m.coherenceIssues.WithLabelValues(issueType, severity).Inc()
}
