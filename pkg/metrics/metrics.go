// Package metrics exposes storyloom's Prometheus instrumentation. A
// disabled Manager accepts every Record call and does nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storyloom"

// Config selects the listener and histogram layouts.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	GenerationDurationBuckets []float64
	RetrievalDurationBuckets  []float64
	ExtractionDurationBuckets []float64
	ScoreBuckets              []float64
}

// DefaultConfig returns buckets sized for model latencies.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		Port:                      9091,
		Path:                      "/metrics",
		GenerationDurationBuckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		RetrievalDurationBuckets:  []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 0.8, 2},
		ExtractionDurationBuckets: prometheus.ExponentialBuckets(0.01, 3, 8),
		ScoreBuckets:              prometheus.LinearBuckets(0.1, 0.1, 10),
	}
}

// Manager owns a private registry and the storyloom collectors.
type Manager struct {
	registry *prometheus.Registry

	generationAttempts *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationActive   prometheus.Gauge
	storyBusy          prometheus.Counter
	providerRetries    *prometheus.CounterVec

	retrievalDuration *prometheus.HistogramVec
	retrievalDegraded *prometheus.CounterVec
	budgetUtilization *prometheus.HistogramVec
	bundleItems       *prometheus.HistogramVec

	coherenceScore  *prometheus.HistogramVec
	coherenceIssues *prometheus.CounterVec

	extractionOutcomes *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	extractedEntries   prometheus.Counter
}

// NewManager builds the collectors described by cfg. A disabled config
// yields the same Manager as NoOpManager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	m := &Manager{registry: prometheus.NewRegistry()}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.initGenerationMetrics(cfg)
	m.initRetrievalMetrics(cfg)
	m.initCoherenceMetrics(cfg)
	m.initExtractionMetrics(cfg)
	return m
}

// NoOpManager returns a Manager that records nothing.
func NoOpManager() *Manager {
	return &Manager{}
}

// Enabled reports whether the Manager records anything.
func (m *Manager) Enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the private registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// WatchRatio exports fn as a gauge sampled on every scrape.
func (m *Manager) WatchRatio(name, help string, fn func() float64) error {
	if !m.Enabled() {
		return nil
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return nil
}

// Handler serves the registry in the OpenMetrics format. A disabled
// Manager answers 404.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer serves Handler at path until ctx is cancelled. It returns
// nil after a clean shutdown.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}
