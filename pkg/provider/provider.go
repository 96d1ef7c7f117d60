// Package provider defines the embedding and generative services the engine
// depends on, with an OpenAI-compatible implementation, an offline static
// implementation, and a rate-limited wrapper.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrEmptyResponse  = errors.New("provider: empty response")
	ErrQuotaExceeded  = errors.New("provider: quota exceeded")
	ErrRateLimited    = errors.New("provider: rate limited")
	ErrUnavailable    = errors.New("provider: service unavailable")
	ErrNotImplemented = errors.New("provider: not implemented")
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Options tune a single completion.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Error is a classified provider failure.
type Error struct {
	Op        string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is worth another attempt. Quota and rate
// limit failures, server errors and timeouts are retryable; cancellation and
// client errors are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Classify wraps err from operation op into an *Error, mapping HTTP status
// codes and well-known messages onto the package sentinels.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Op: op, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Retryable: true, Cause: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "insufficient_quota"):
		return &Error{Op: op, Retryable: true, Cause: fmt.Errorf("%w: %v", ErrQuotaExceeded, err)}
	case status == http.StatusTooManyRequests || strings.Contains(msg, "rate limit"):
		return &Error{Op: op, Retryable: true, Cause: fmt.Errorf("%w: %v", ErrRateLimited, err)}
	case status >= 500:
		return &Error{Op: op, Retryable: true, Cause: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	case status >= 400:
		return &Error{Op: op, Cause: err}
	}
	// transport failures carry no status
	return &Error{Op: op, Retryable: status == 0, Cause: err}
}
