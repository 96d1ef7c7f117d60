package assembler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/retrieval"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/telemetry/tracing"
)

// ErrInvalidBudget is returned for a negative budget.
var ErrInvalidBudget = errors.New("assembler: invalid budget")

// Retriever is the semantic retrieval dependency.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Candidate, error)
}

// Recorder receives bundle statistics.
type Recorder interface {
	RecordBundle(unit string, used, total int, tiers map[string]int)
}

type nopRecorder struct{}

func (nopRecorder) RecordBundle(string, int, int, map[string]int) {}

// Config tunes assembly.
type Config struct {
	RecentWindow        int
	Unit                Unit
	DefaultBudget       int
	ImplicatingMemories int
	TopK                int
	MinImportance       float64
	MemoryTypes         []memory.MemoryType
}

// ConfigFrom builds a Config from the assembly and retrieval sections.
func ConfigFrom(a config.AssemblyConfig, r config.RetrievalConfig) Config {
	return Config{
		RecentWindow:        a.RecentWindow,
		Unit:                ParseUnit(a.BudgetUnit),
		DefaultBudget:       a.DefaultBudget,
		ImplicatingMemories: a.ImplicatingMemories,
		TopK:                r.TopK,
		MinImportance:       r.MinImportance,
	}
}

// Assembler builds context bundles.
type Assembler struct {
	cfg       Config
	repo      story.Repository
	retriever Retriever
	ranker    *ranking.Ranker
	logger    logger.Logger
	recorder  Recorder
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Assembler) {
		if r != nil {
			a.recorder = r
		}
	}
}

// New creates an Assembler.
func New(cfg Config, repo story.Repository, retriever Retriever, ranker *ranking.Ranker, opts ...Option) *Assembler {
	if cfg.ImplicatingMemories <= 0 {
		cfg.ImplicatingMemories = 3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultK
	}
	if cfg.Unit == "" {
		cfg.Unit = UnitChars
	}
	a := &Assembler{
		cfg:       cfg,
		repo:      repo,
		retriever: retriever,
		ranker:    ranker,
		logger:    logger.Global(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Unit returns the budget unit in use.
func (a *Assembler) Unit() Unit {
	return a.cfg.Unit
}

// Assemble builds the context for the next chapter of storyID. A budget of
// zero selects the configured default. Recent chapters, long-term state and
// semantic memories are read concurrently; an unavailable retriever degrades
// the bundle to no memories instead of failing.
func (a *Assembler) Assemble(ctx context.Context, storyID, userChoice string, budget int) (_ *Bundle, err error) {
	if budget < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}
	if budget == 0 {
		budget = a.cfg.DefaultBudget
	}

	ctx, span := tracing.StartSpan(ctx, tracing.SpanAssemble, storyID, attribute.Int("budget", budget))
	defer func() { tracing.EndSpan(span, err) }()

	var (
		rec        *story.Story
		latest     int
		recent     []*story.Chapter
		state      *story.State
		candidates []retrieval.Candidate
		degraded   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = a.repo.GetStory(gctx, storyID)
		return err
	})
	g.Go(func() error {
		var err error
		if latest, err = a.repo.LatestChapter(gctx, storyID); err != nil {
			return err
		}
		recent, err = story.RecentWindow(gctx, a.repo, storyID, a.cfg.RecentWindow)
		return err
	})
	g.Go(func() error {
		var err error
		state, err = a.repo.GetState(gctx, storyID)
		if err != nil {
			return fmt.Errorf("assembler: load state: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		candidates, err = a.retriever.Retrieve(gctx, retrieval.Request{
			StoryID:       storyID,
			Query:         userChoice,
			Types:         a.cfg.MemoryTypes,
			K:             a.cfg.TopK,
			MinImportance: a.cfg.MinImportance,
		})
		if errors.Is(err, retrieval.ErrRetrievalUnavailable) {
			degraded = true
			candidates = nil
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	current := latest
	ranked := a.ranker.Rank(candidates, current)

	top := ranked
	if len(top) > a.cfg.ImplicatingMemories {
		top = top[:a.cfg.ImplicatingMemories]
	}
	core := selectCore(state, top)

	keep, used := fit(fillOrder(a.cfg.Unit, recent, core, ranked), budget)

	bundle := &Bundle{
		StoryID:        storyID,
		Story:          rec,
		UserChoice:     userChoice,
		CurrentChapter: current,
		BudgetUsed:     used,
		BudgetTotal:    budget,
		Unit:           a.cfg.Unit,
		Degraded:       degraded,
		State:          state,
	}
	for i, c := range recent {
		if keep[tierRecent][i] {
			bundle.RecentChapters = append(bundle.RecentChapters, c)
		}
	}
	for i, c := range core {
		if keep[tierCore][i] {
			bundle.Core = append(bundle.Core, c)
		}
	}
	for i, r := range ranked {
		if keep[tierMemory][i] {
			bundle.RankedMemories = append(bundle.RankedMemories, r)
		}
	}

	dropped := len(recent) + len(core) + len(ranked) - bundle.Items()
	if dropped > 0 {
		a.logger.DebugContext(ctx, "context over budget", "story_id", storyID, "dropped", dropped, "budget", budget, "unit", a.cfg.Unit)
	}
	a.recorder.RecordBundle(string(a.cfg.Unit), used, budget, bundle.Tiers())
	return bundle, nil
}
