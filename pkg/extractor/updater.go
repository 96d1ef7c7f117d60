package extractor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/metrics"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/telemetry/tracing"
)

// Recorder receives extraction statistics.
type Recorder interface {
	RecordExtraction(outcome string)
	RecordExtractionDuration(strategy string, duration time.Duration, entries int)
}

type nopRecorder struct{}

func (nopRecorder) RecordExtraction(string)                             {}
func (nopRecorder) RecordExtractionDuration(string, time.Duration, int) {}

// Pruner trims a story's memory to its most valuable entries.
type Pruner interface {
	Prune(ctx context.Context, storyID string, keep int) (int, error)
}

// Updater runs an Extractor over accepted content and writes the resulting
// memory entries and state delta.
type Updater struct {
	extractor    Extractor
	embedder     provider.Embedder
	index        memory.Index
	repo         story.Repository
	logger       logger.Logger
	recorder     Recorder
	embedTimeout time.Duration
	pruner       Pruner
	keep         int
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(u *Updater) {
		if r != nil {
			u.recorder = r
		}
	}
}

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(u *Updater) { u.embedTimeout = d }
}

// WithPruning keeps at most keep entries per story after each write.
func WithPruning(p Pruner, keep int) Option {
	return func(u *Updater) {
		u.pruner = p
		u.keep = keep
	}
}

// NewUpdater creates an Updater.
func NewUpdater(ex Extractor, embedder provider.Embedder, index memory.Index, repo story.Repository, opts ...Option) *Updater {
	u := &Updater{
		extractor: ex,
		embedder:  embedder,
		index:     index,
		repo:      repo,
		logger:    logger.Global(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ExtractAndApply extracts memories from chapter content, upserts them under
// deterministic ids and applies the state delta. Content already applied for
// the chapter is not extracted again; the stored entries are returned.
// Everything that can fail or be canceled runs before the first write.
func (u *Updater) ExtractAndApply(ctx context.Context, storyID string, chapter int, content string) (_ []*memory.MemoryEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanExtract, storyID,
		attribute.Int("chapter", chapter),
		attribute.String("strategy", u.extractor.Name()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if !memory.ValidStoryID(storyID) {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, memory.ErrInvalidStoryID)
	}
	if chapter < 1 {
		return nil, fmt.Errorf("%w: chapter %d", ErrExtractionFailed, chapter)
	}
	start := time.Now()
	log := logger.ForStory(u.logger, storyID).With("chapter", chapter)

	st, err := u.repo.GetState(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load state: %w", ErrExtractionFailed, err)
	}
	digest := Digest(content)
	if st.ExtractedChapters[chapter] == digest {
		entries, err := u.chapterEntries(ctx, storyID, chapter)
		if err != nil {
			return nil, fmt.Errorf("%w: list entries: %w", ErrExtractionFailed, err)
		}
		u.recorder.RecordExtraction(metrics.ExtractionSkipped)
		log.DebugContext(ctx, "chapter already extracted", "entries", len(entries))
		return entries, nil
	}

	ext, err := u.extractor.Extract(ctx, chapter, content, st)
	if err != nil {
		return nil, u.fail(fmt.Errorf("%w: extract: %w", ErrExtractionFailed, err))
	}

	entries := make([]*memory.MemoryEntry, 0, len(ext.Statements))
	for i, s := range ext.Statements {
		vec, err := u.embed(ctx, s.Content)
		if err != nil {
			return nil, u.fail(fmt.Errorf("%w: embed statement %d: %w", ErrExtractionFailed, i+1, err))
		}
		seq := i + 1
		entries = append(entries, &memory.MemoryEntry{
			ID:            memory.EntryID(storyID, chapter, seq, s.Type),
			StoryID:       storyID,
			ChapterNumber: chapter,
			Sequence:      seq,
			Content:       s.Content,
			Embedding:     vec,
			MemoryType:    s.Type,
			Importance:    s.Importance,
			Characters:    s.Characters,
			Keywords:      s.Keywords,
			CreatedAt:     memory.ChapterTimestamp(chapter, seq),
		})
	}
	linkRelated(entries)

	delta := ext.Delta
	if delta == nil {
		delta = &story.Delta{}
	}
	delta.Chapter = chapter
	delta.Digest = digest
	if err := delta.Validate(); err != nil {
		return nil, u.fail(fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, u.fail(fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}

	if err := u.write(ctx, storyID, chapter, entries, delta); err != nil {
		return nil, u.fail(err)
	}

	u.recorder.RecordExtraction(metrics.ExtractionApplied)
	u.recorder.RecordExtractionDuration(u.extractor.Name(), time.Since(start), len(entries))
	log.InfoContext(ctx, "chapter extracted", "entries", len(entries), "characters", len(delta.Characters), "threads", len(delta.Threads))

	if u.pruner != nil && u.keep > 0 {
		if n, err := u.pruner.Prune(ctx, storyID, u.keep); err != nil {
			log.WarnContext(ctx, "memory prune failed", "error", err)
		} else if n > 0 {
			log.DebugContext(ctx, "memory pruned", "removed", n)
		}
	}
	return entries, nil
}

// write replaces the chapter's entries and applies the delta. The digest is
// recorded by the delta last, so a failure part way leaves the chapter
// eligible for another run.
func (u *Updater) write(ctx context.Context, storyID string, chapter int, entries []*memory.MemoryEntry, delta *story.Delta) error {
	stale, err := u.chapterEntries(ctx, storyID, chapter)
	if err != nil {
		return fmt.Errorf("%w: list entries: %w", ErrExtractionFailed, err)
	}
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.ID] = true
	}
	var drop []string
	for _, e := range stale {
		if !keep[e.ID] {
			drop = append(drop, e.ID)
		}
	}

	for _, e := range entries {
		if err := u.index.Upsert(ctx, e); err != nil {
			return fmt.Errorf("%w: upsert %s: %w", ErrExtractionFailed, e.ID, err)
		}
	}
	if len(drop) > 0 {
		if err := u.index.Delete(ctx, storyID, drop); err != nil {
			return fmt.Errorf("%w: drop stale entries: %w", ErrExtractionFailed, err)
		}
	}
	if _, err := u.repo.PutState(ctx, storyID, delta); err != nil {
		return fmt.Errorf("%w: apply delta: %w", ErrExtractionFailed, err)
	}
	return nil
}

func (u *Updater) embed(ctx context.Context, text string) ([]float32, error) {
	if u.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.embedTimeout)
		defer cancel()
	}
	return u.embedder.Embed(ctx, text)
}

func (u *Updater) chapterEntries(ctx context.Context, storyID string, chapter int) ([]*memory.MemoryEntry, error) {
	all, err := u.index.List(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var out []*memory.MemoryEntry
	for _, e := range all {
		if e.ChapterNumber == chapter {
			out = append(out, e)
		}
	}
	return out, nil
}

func (u *Updater) fail(err error) error {
	u.recorder.RecordExtraction(metrics.ExtractionFailed)
	return err
}

// linkRelated connects entries of one chapter that share a character.
func linkRelated(entries []*memory.MemoryEntry) {
	for i, a := range entries {
		for j, b := range entries {
			if i == j || !shareAny(a.Characters, b.Characters) {
				continue
			}
			a.RelatedMemoryIDs = append(a.RelatedMemoryIDs, b.ID)
		}
	}
}

func shareAny(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
