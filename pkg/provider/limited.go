package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited passes calls through a shared token bucket.
type Limited struct {
	limiter   *rate.Limiter
	completer Completer
	embedder  Embedder
}

var (
	_ Embedder  = (*Limited)(nil)
	_ Completer = (*Limited)(nil)
)

// NewLimited wraps completer and embedder (either may be nil) with a limiter
// of rps requests per second. rps <= 0 disables limiting.
func NewLimited(completer Completer, embedder Embedder, rps float64, burst int) *Limited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		limiter:   rate.NewLimiter(limit, burst),
		completer: completer,
		embedder:  embedder,
	}
}

func (l *Limited) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if l.completer == nil {
		return "", ErrNotImplemented
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &Error{Op: "complete", Retryable: ctx.Err() == nil, Cause: err}
	}
	return l.completer.Complete(ctx, prompt, opts)
}

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.embedder == nil {
		return nil, ErrNotImplemented
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: "embed", Retryable: ctx.Err() == nil, Cause: err}
	}
	return l.embedder.Embed(ctx, text)
}

// SetLimit changes the rate at runtime.
func (l *Limited) SetLimit(rps float64) {
	if rps <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(rps))
}
