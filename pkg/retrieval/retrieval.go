// Package retrieval embeds a query and fetches the nearest memories of a
// story from the vector index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/provider"
)

// ErrRetrievalUnavailable means the embedder or the index failed. Callers
// degrade to an empty memory set.
var ErrRetrievalUnavailable = errors.New("retrieval: unavailable")

// DefaultK is used when a request asks for k <= 0.
const DefaultK = 10

// Candidate is a retrieved memory with its similarity clamped to [0,1];
// vectors pointing away from the query count as unrelated, not negative.
type Candidate struct {
	Entry      *memory.MemoryEntry
	Similarity float64
}

// Request describes one retrieval.
type Request struct {
	StoryID       string
	Query         string
	Types         []memory.MemoryType
	K             int
	MinImportance float64
}

// Recorder receives retrieval outcomes.
type Recorder interface {
	RecordRetrieval(ctx context.Context, status string, d time.Duration)
	RecordRetrievalDegraded(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRetrieval(context.Context, string, time.Duration) {}
func (nopRecorder) RecordRetrievalDegraded(string)                        {}

// Retriever is the semantic retriever.
type Retriever struct {
	embedder provider.Embedder
	index    memory.Index
	timeout  time.Duration
	logger   logger.Logger
	recorder Recorder
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTimeout bounds embedding plus index time per call.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Retriever) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// New creates a Retriever.
func New(embedder provider.Embedder, index memory.Index, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		logger:   logger.Global(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds req.Query and returns up to req.K candidates of the story.
// An empty query yields no candidates. Any embedder or index failure,
// including the per-call timeout, is reported as ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Candidate, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}
	if !memory.ValidStoryID(req.StoryID) {
		return nil, memory.ErrInvalidStoryID
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}

	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, r.fail(ctx, "embed", start, err)
	}
	matches, err := r.index.Query(ctx, vec, memory.Filter{
		StoryID:       req.StoryID,
		Types:         req.Types,
		MinImportance: req.MinImportance,
	}, k)
	if err != nil {
		return nil, r.fail(ctx, "index", start, err)
	}

	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, Candidate{Entry: m.Entry, Similarity: max(0, min(1, m.Similarity))})
	}
	r.recorder.RecordRetrieval(ctx, "ok", time.Since(start))
	return out, nil
}

func (r *Retriever) fail(ctx context.Context, stage string, start time.Time, err error) error {
	r.recorder.RecordRetrieval(ctx, "error", time.Since(start))
	r.recorder.RecordRetrievalDegraded(stage)
	r.logger.WarnContext(ctx, "retrieval degraded", "stage", stage, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrRetrievalUnavailable, stage, err)
}
