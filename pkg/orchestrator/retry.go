package orchestrator

import (
	"context"
	"time"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/provider"
)

// RetryPolicy controls retries of a generative call.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns 3 attempts starting at 500ms, doubling up to 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2,
	}
}

// RetryPolicyFrom reads the retry settings of the generation section.
func RetryPolicyFrom(cfg config.GenerationConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// the policy is exhausted. onRetry is called before each wait. The number of
// retries performed is returned with the result.
func withRetry[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, int, error) {
	var zero T

	if p.MaxAttempts <= 1 {
		v, err := fn(ctx)
		return v, 0, err
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, attempt - 1, nil
		}
		lastErr = err

		if !provider.IsRetryable(err) || ctx.Err() != nil {
			return zero, attempt - 1, err
		}

		// Don't wait after the last attempt
		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return zero, attempt - 1, ctx.Err()
		case <-time.After(backoff):
			if p.BackoffMultiplier > 1 {
				backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
			}
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}

	return zero, p.MaxAttempts - 1, lastErr
}
