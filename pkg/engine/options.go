package engine

import (
	"github.com/redis/go-redis/v9"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/metrics"
	"github.com/storyloom/storyloom/pkg/provider"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger replaces the logger built from the log section.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics manager for the engine.
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithProvider replaces the configured model provider. Either argument may
// be nil to keep the configured one.
func WithProvider(c provider.Completer, em provider.Embedder) Option {
	return func(e *Engine) {
		e.completer = c
		e.embedder = em
	}
}

// WithRedisClient sets the shared Redis client used by the redis lock backend.
func WithRedisClient(client redis.Cmdable) Option {
	return func(e *Engine) {
		if client != nil {
			e.redisClient = client
		}
	}
}
