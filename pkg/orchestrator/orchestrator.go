// Package orchestrator drives one generation cycle: assemble context, call
// the generative service, score the draft, regenerate with corrections when
// it falls short, then persist and feed the result back into memory.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/assembler"
	"github.com/storyloom/storyloom/pkg/coherence"
	"github.com/storyloom/storyloom/pkg/lock"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/metrics"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/telemetry/tracing"
)

// Assembler builds the context bundle of a generation.
type Assembler interface {
	Assemble(ctx context.Context, storyID, userChoice string, budget int) (*assembler.Bundle, error)
}

// Scorer evaluates a draft against its bundle.
type Scorer interface {
	Score(storyID, content string, bundle *assembler.Bundle) *coherence.Report
}

// Updater writes an accepted chapter back into memory and state.
type Updater interface {
	ExtractAndApply(ctx context.Context, storyID string, chapter int, content string) ([]*memory.MemoryEntry, error)
}

// RetryQueue takes extractions that failed synchronously.
type RetryQueue interface {
	Enqueue(storyID string, chapter int, content string) error
}

// Recorder receives generation and coherence statistics.
type Recorder interface {
	RecordGenerationAttempt(outcome string)
	RecordGenerationDuration(ctx context.Context, outcome string, duration time.Duration)
	IncActiveGenerations()
	DecActiveGenerations()
	RecordStoryBusy()
	RecordProviderRetry(operation string)
	RecordCoherenceScore(axis string, score float64)
	RecordCoherenceIssue(issueType, severity string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGenerationAttempt(string)                                  {}
func (nopRecorder) RecordGenerationDuration(context.Context, string, time.Duration) {}
func (nopRecorder) IncActiveGenerations()                                           {}
func (nopRecorder) DecActiveGenerations()                                           {}
func (nopRecorder) RecordStoryBusy()                                                {}
func (nopRecorder) RecordProviderRetry(string)                                      {}
func (nopRecorder) RecordCoherenceScore(string, float64)                            {}
func (nopRecorder) RecordCoherenceIssue(string, string)                             {}

// Config tunes the generation loop.
type Config struct {
	// MaxRegenerations is the number of attempts after the first.
	MaxRegenerations int
	Retry            RetryPolicy

	// GenerationTimeout bounds each generative call; zero disables it.
	GenerationTimeout time.Duration

	Temperature float64
	MaxTokens   int

	// PersistChapters stores the returned chapter in the repository.
	PersistChapters bool
}

// DefaultConfig allows two regenerations and persists chapters.
func DefaultConfig() Config {
	return Config{
		MaxRegenerations:  2,
		Retry:             DefaultRetryPolicy(),
		GenerationTimeout: 45 * time.Second,
		Temperature:       0.8,
		MaxTokens:         2000,
		PersistChapters:   true,
	}
}

// ConfigFrom builds a Config from the configuration sections.
func ConfigFrom(g config.GenerationConfig, t config.TimeoutsConfig, p config.ProviderConfig) Config {
	return Config{
		MaxRegenerations:  g.MaxRegenerations,
		Retry:             RetryPolicyFrom(g),
		GenerationTimeout: t.Generation,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		PersistChapters:   g.PersistChapters,
	}
}

// Deps are the collaborators of an Orchestrator. Repo may be nil when
// chapters are not persisted; Updater and Retries may be nil to skip
// extraction.
type Deps struct {
	Assembler Assembler
	Completer provider.Completer
	Scorer    Scorer
	Locker    lock.Locker
	Repo      story.Repository
	Updater   Updater
	Retries   RetryQueue
}

// Result is the outcome of a generation.
type Result struct {
	GenerationID string `json:"generation_id"`
	StoryID      string `json:"story_id"`

	Chapter *story.Chapter    `json:"chapter"`
	Report  *coherence.Report `json:"report"`

	// Reports holds the report of every attempt in order.
	Reports  []*coherence.Report `json:"reports"`
	Attempts int                 `json:"attempts"`
	Accepted bool                `json:"accepted"`
	Phase    Phase               `json:"-"`

	// Err is ErrCoherenceBelowThreshold when the best attempt was returned
	// without reaching the threshold.
	Err error `json:"-"`

	// Memories are the entries extracted from the chapter. ExtractionErr is
	// set when extraction failed and was queued for retry.
	Memories      []*memory.MemoryEntry `json:"memories,omitempty"`
	ExtractionErr error                 `json:"-"`

	Bundle *assembler.Bundle `json:"-"`
}

// Content returns the chapter text.
func (r *Result) Content() string {
	if r.Chapter == nil {
		return ""
	}
	return r.Chapter.Content
}

// Orchestrator runs generation cycles.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	logger   logger.Logger
	recorder Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New creates an Orchestrator. A nil Locker selects a process-local one.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg.MaxRegenerations < 0 {
		cfg.MaxRegenerations = 0
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Global(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateOption adjusts a single Generate call.
type GenerateOption func(*request)

type request struct {
	budget int
}

// WithBudget overrides the context budget; zero keeps the default.
func WithBudget(budget int) GenerateOption {
	return func(r *request) { r.budget = budget }
}

type draft struct {
	out    output
	report *coherence.Report
}

// Generate produces the next chapter of storyID from the player's choice.
// At most one generation runs per story; a concurrent call fails fast with
// ErrStoryBusy. A draft that never reaches the accept threshold is still
// returned, as the best scoring attempt with Result.Err set.
func (o *Orchestrator) Generate(ctx context.Context, storyID, userChoice string, opts ...GenerateOption) (_ *Result, err error) {
	var req request
	for _, opt := range opts {
		opt(&req)
	}

	unlock, err := o.deps.Locker.TryLock(ctx, storyID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			o.recorder.RecordStoryBusy()
			return nil, fmt.Errorf("%w: %s", ErrStoryBusy, storyID)
		}
		return nil, fmt.Errorf("orchestrator: lock story %s: %w", storyID, err)
	}
	defer unlock()

	genID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, tracing.SpanGenerate, storyID, attribute.String("generation_id", genID))
	defer func() { tracing.EndSpan(span, err) }()

	o.recorder.IncActiveGenerations()
	defer o.recorder.DecActiveGenerations()

	start := time.Now()
	log := logger.ForStory(o.logger, storyID).With("generation_id", genID)
	res := &Result{GenerationID: genID, StoryID: storyID}
	o.transition(ctx, log, res, PhaseBuilding)

	bundle, err := o.deps.Assembler.Assemble(ctx, storyID, userChoice, req.budget)
	if err != nil {
		o.fail(ctx, log, res, start)
		return nil, fmt.Errorf("orchestrator: assemble context: %w", err)
	}
	res.Bundle = bundle

	var (
		best   *draft
		issues []coherence.Issue
	)
	limit := 1 + o.cfg.MaxRegenerations
	for n := 1; n <= limit; n++ {
		o.transition(ctx, log, res, PhaseGenerating)
		a, err := o.attempt(ctx, log, res, bundle, n, issues)
		if err != nil {
			o.fail(ctx, log, res, start)
			return nil, err
		}
		res.Attempts = n
		res.Reports = append(res.Reports, a.report)
		if best == nil || a.report.Overall > best.report.Overall {
			best = a
		}
		if a.report.Accepted {
			break
		}
		issues = a.report.Issues
		if n < limit {
			o.recorder.RecordGenerationAttempt(metrics.OutcomeRegenerate)
			log.InfoContext(ctx, "draft below threshold, regenerating",
				"attempt", n, "overall", a.report.Overall, "issues", len(a.report.Issues))
			o.transition(ctx, log, res, PhaseRegenerating)
		}
	}

	// Nothing is written for a generation canceled before its result is
	// committed.
	if err := ctx.Err(); err != nil {
		o.fail(ctx, log, res, start)
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	res.Report = best.report
	res.Accepted = best.report.Accepted
	res.Chapter = &story.Chapter{
		StoryID:              storyID,
		Number:               bundle.NextChapter(),
		Title:                best.out.Title,
		Content:              best.out.Content,
		Summary:              best.out.Summary,
		KeyElements:          best.out.KeyElements,
		Mood:                 best.out.Mood,
		UserChoice:           userChoice,
		CharacterDevelopment: best.out.CharacterDevelopment,
		ChoiceSetup:          best.out.ChoiceSetup,
		CreatedAt:            time.Now().UTC(),
	}

	outcome := metrics.OutcomeAccepted
	if res.Accepted {
		o.transition(ctx, log, res, PhaseAccepted)
	} else {
		outcome = metrics.OutcomeFlagged
		res.Err = fmt.Errorf("%w: best overall %.2f after %d attempts", ErrCoherenceBelowThreshold, best.report.Overall, res.Attempts)
		o.transition(ctx, log, res, PhaseFlagged)
	}

	if o.cfg.PersistChapters && o.deps.Repo != nil {
		if err := o.deps.Repo.SaveChapter(ctx, res.Chapter); err != nil {
			o.fail(ctx, log, res, start)
			return nil, fmt.Errorf("orchestrator: save chapter %d: %w", res.Chapter.Number, err)
		}
	}

	o.extract(ctx, log, res)

	o.recorder.RecordGenerationAttempt(outcome)
	o.recorder.RecordGenerationDuration(ctx, outcome, time.Since(start))
	log.InfoContext(ctx, "generation finished",
		"chapter", res.Chapter.Number,
		"outcome", outcome,
		"attempts", res.Attempts,
		"overall", res.Report.Overall,
		"memories", len(res.Memories),
		"duration", time.Since(start),
	)
	return res, nil
}

// attempt generates and scores one draft.
func (o *Orchestrator) attempt(ctx context.Context, log logger.Logger, res *Result, b *assembler.Bundle, n int, corrections []coherence.Issue) (_ *draft, err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanAttempt, b.StoryID,
		attribute.Int("attempt", n),
		attribute.Int("corrections", len(corrections)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	prompt := buildPrompt(b, corrections)
	opts := provider.Options{Temperature: o.cfg.Temperature, MaxTokens: o.cfg.MaxTokens}

	onRetry := func(try int, err error) {
		o.recorder.RecordProviderRetry("complete")
		log.WarnContext(ctx, "generative call failed, retrying", "attempt", n, "try", try, "error", err)
	}
	// A response without usable content is malformed and retried like a
	// transient provider failure.
	out, retries, err := withRetry(ctx, o.cfg.Retry, onRetry, func(ctx context.Context) (output, error) {
		if o.cfg.GenerationTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.GenerationTimeout)
			defer cancel()
		}
		raw, err := o.deps.Completer.Complete(ctx, prompt, opts)
		if err != nil {
			return output{}, err
		}
		out := parseOutput(raw)
		if out.Content == "" {
			return output{}, &provider.Error{Op: "complete", Retryable: true, Cause: provider.ErrEmptyResponse}
		}
		return out, nil
	})
	if err != nil {
		return nil, &GenerationError{StoryID: b.StoryID, Attempt: n, Retries: retries, Cause: err}
	}

	o.transition(ctx, log, res, PhaseScoring)
	report := o.score(ctx, b, out.Content)
	log.DebugContext(ctx, "draft scored", "attempt", n, "overall", report.Overall, "accepted", report.Accepted)
	return &draft{out: out, report: report}, nil
}

func (o *Orchestrator) score(ctx context.Context, b *assembler.Bundle, content string) *coherence.Report {
	_, span := tracing.StartSpan(ctx, tracing.SpanScore, b.StoryID)
	report := o.deps.Scorer.Score(b.StoryID, content, b)
	span.SetAttributes(
		attribute.Float64("overall", report.Overall),
		attribute.Int("issues", len(report.Issues)),
	)
	tracing.EndSpan(span, nil)

	o.recorder.RecordCoherenceScore("overall", report.Overall)
	for axis, v := range report.Axes() {
		o.recorder.RecordCoherenceScore(axis, v)
	}
	for _, is := range report.Issues {
		o.recorder.RecordCoherenceIssue(string(is.Type), string(is.Severity))
	}
	return report
}

// extract feeds the returned chapter back into memory. A failure does not
// fail the generation; the extraction is queued for retry instead.
func (o *Orchestrator) extract(ctx context.Context, log logger.Logger, res *Result) {
	if o.deps.Updater == nil {
		return
	}
	ch := res.Chapter
	mems, err := o.deps.Updater.ExtractAndApply(ctx, res.StoryID, ch.Number, ch.Content)
	if err == nil {
		res.Memories = mems
		return
	}
	res.ExtractionErr = err
	log.WarnContext(ctx, "extraction failed", "chapter", ch.Number, "error", err)
	if o.deps.Retries == nil {
		return
	}
	if qerr := o.deps.Retries.Enqueue(res.StoryID, ch.Number, ch.Content); qerr != nil {
		log.ErrorContext(ctx, "extraction retry not queued", "chapter", ch.Number, "error", qerr)
	}
}

func (o *Orchestrator) transition(ctx context.Context, log logger.Logger, res *Result, next Phase) {
	log.DebugContext(ctx, "generation phase", "from", res.Phase.String(), "to", next.String())
	res.Phase = next
}

func (o *Orchestrator) fail(ctx context.Context, log logger.Logger, res *Result, start time.Time) {
	o.transition(ctx, log, res, PhaseFailed)
	o.recorder.RecordGenerationAttempt(metrics.OutcomeFailed)
	o.recorder.RecordGenerationDuration(ctx, metrics.OutcomeFailed, time.Since(start))
}
