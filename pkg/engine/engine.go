// Package engine wires the story pipeline from configuration and exposes
// its story-level operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/assembler"
	"github.com/storyloom/storyloom/pkg/coherence"
	"github.com/storyloom/storyloom/pkg/extractor"
	"github.com/storyloom/storyloom/pkg/lock"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/metrics"
	"github.com/storyloom/storyloom/pkg/orchestrator"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/retrieval"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/telemetry/tracing"
	"github.com/storyloom/storyloom/pkg/version"
)

// State represents the current state of the engine.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Engine owns every component of the pipeline.
type Engine struct {
	cfg     *config.Config
	logger  logger.Logger
	metrics *metrics.Manager

	completer   provider.Completer
	embedder    provider.Embedder
	redisClient redis.Cmdable
	ownsRedis   bool

	repo         story.Repository
	entries      memory.EntryStore
	hub          *memory.Hub
	ranker       *ranking.Ranker
	scorer       *coherence.Scorer
	assembler    *assembler.Assembler
	updater      *extractor.Updater
	retries      *extractor.RetryQueue
	locker       lock.Locker
	orchestrator *orchestrator.Orchestrator

	mu              sync.Mutex
	state           State
	hot             config.HotReloadableConfig
	watcher         *config.Watcher
	shutdownTracing tracing.ShutdownFunc
}

// New builds an engine from cfg. The engine must be started before
// generating.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	e := &Engine{
		cfg:   cfg,
		state: StateIdle,
		hot:   config.ExtractHotReloadable(cfg),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		logCfg := logger.FromAppConfig(cfg.Log)
		if cfg.App.Debug {
			logCfg.Level = logger.DebugLevel
		}
		e.logger = logger.New(logCfg)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(cfg.Metrics)
	}

	if err := e.buildStorage(); err != nil {
		return nil, err
	}
	if err := e.buildProvider(); err != nil {
		_ = e.closeStorage()
		return nil, err
	}
	if err := e.buildLocker(); err != nil {
		_ = e.closeStorage()
		return nil, err
	}

	e.hub = memory.NewHub(cfg.Memory, e.entries, e.logger)

	retriever := retrieval.New(e.embedder, e.hub,
		retrieval.WithTimeout(cfg.Timeouts.Embedding),
		retrieval.WithLogger(e.logger),
		retrieval.WithRecorder(e.metrics),
	)
	e.ranker = ranking.FromConfig(cfg.Ranking)
	e.assembler = assembler.New(assembler.ConfigFrom(cfg.Assembly, cfg.Retrieval), e.repo, retriever, e.ranker,
		assembler.WithLogger(e.logger),
		assembler.WithRecorder(e.metrics),
	)
	e.scorer = coherence.New(coherence.ConfigFrom(cfg.Coherence))

	var ex extractor.Extractor = extractor.NewHeuristic()
	if cfg.Extraction.Strategy == extractor.StrategyModel {
		ex = extractor.NewModel(e.completer, ex, e.logger)
	}
	e.updater = extractor.NewUpdater(ex, e.embedder, e.hub, e.repo,
		extractor.WithLogger(e.logger),
		extractor.WithRecorder(e.metrics),
		extractor.WithEmbedTimeout(cfg.Timeouts.Embedding),
		extractor.WithPruning(e.hub, cfg.Memory.MaxEntriesPerStory),
	)
	e.retries = extractor.NewRetryQueue(e.updater, cfg.Extraction, e.metrics, e.logger, extractor.WithLocker(e.locker))

	e.orchestrator = orchestrator.New(
		orchestrator.ConfigFrom(cfg.Generation, cfg.Timeouts, cfg.Provider),
		orchestrator.Deps{
			Assembler: e.assembler,
			Completer: e.completer,
			Scorer:    e.scorer,
			Locker:    e.locker,
			Repo:      e.repo,
			Updater:   e.updater,
			Retries:   e.retries,
		},
		orchestrator.WithLogger(e.logger),
		orchestrator.WithRecorder(e.metrics),
	)

	e.logger.Info("engine built",
		"storage", cfg.Storage.Type,
		"provider", cfg.Provider.Type,
		"lock", cfg.Lock.Backend,
		"extraction", ex.Name(),
	)
	return e, nil
}

func newMetrics(cfg config.MetricsConfig) *metrics.Manager {
	if !cfg.Enabled {
		return metrics.NoOpManager()
	}
	mc := metrics.DefaultConfig()
	mc.Port = cfg.Port
	mc.Path = cfg.Path
	return metrics.NewManager(mc)
}

// buildStorage opens the story repository and the memory entry store. The
// badger backend shares one database between both.
func (e *Engine) buildStorage() error {
	st := e.cfg.Storage
	switch st.Type {
	case "badger":
		repo, err := story.OpenBadgerRepository(story.BadgerConfig{
			Path:             st.Badger.Path,
			SyncWrites:       st.Badger.SyncWrites,
			ValueLogFileSize: st.Badger.ValueLogFileSize,
		})
		if err != nil {
			return &ComponentError{Component: "storage", Cause: err}
		}
		e.repo = repo
		l1, err := memory.NewL1Cache(e.cfg.Memory.L1CacheSize)
		if err != nil {
			_ = repo.Close()
			return &ComponentError{Component: "storage", Cause: err}
		}
		e.entries = memory.NewTieredStorage(l1, memory.NewL2Badger(repo.DB()))
		hitRatio := func() float64 {
			r, _ := l1.HitRate()
			return r
		}
		if err := e.metrics.WatchRatio("memory_cache_hit_ratio", "Hit ratio of the hot memory entry cache.", hitRatio); err != nil {
			e.logger.Warn("cache hit ratio not exported", "error", err)
		}
		e.logger.Info("initialized badger storage", "path", st.Badger.Path)
	case "memory", "":
		e.repo = story.NewMemoryRepository()
		e.entries = memory.NewMapStore()
		e.logger.Info("initialized memory storage")
	default:
		return &ComponentError{Component: "storage", Cause: fmt.Errorf("unknown type %q", st.Type)}
	}
	return nil
}

func (e *Engine) buildProvider() error {
	if e.completer != nil && e.embedder != nil {
		return nil
	}
	p, err := provider.New(e.cfg.Provider, e.cfg.Memory.VectorDimension)
	if err != nil {
		return &ComponentError{Component: "provider", Cause: err}
	}
	if e.completer == nil {
		e.completer = p
	}
	if e.embedder == nil {
		e.embedder = p
	}
	return nil
}

func (e *Engine) buildLocker() error {
	switch e.cfg.Lock.Backend {
	case "redis":
		if e.redisClient == nil {
			e.redisClient = redis.NewClient(&redis.Options{
				Addr:     e.cfg.Redis.Address,
				Password: e.cfg.Redis.Password,
				DB:       e.cfg.Redis.DB,
			})
			e.ownsRedis = true
		}
		e.locker = lock.NewRedisLocker(e.redisClient, e.cfg.Redis.KeyPrefix, e.cfg.Lock.TTL, lock.WithLogger(e.logger))
	case "local", "":
		e.locker = lock.NewLocalLocker()
	default:
		return &ComponentError{Component: "lock", Cause: fmt.Errorf("unknown backend %q", e.cfg.Lock.Backend)}
	}
	return nil
}

// Start starts the extraction retry workers and, when enabled, tracing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateStopped:
		return &NotRunningError{Op: "start after stop"}
	}

	if e.cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, e.cfg.Tracing, e.cfg.App.Name, version.Version)
		if err != nil {
			return &ComponentError{Component: "tracing", Cause: err}
		}
		e.shutdownTracing = shutdown
	}

	e.retries.Start()
	e.state = StateRunning
	e.logger.Info("engine started")
	return nil
}

// Stop cancels pending extraction retries and releases storage, Redis and
// tracing resources. An engine that was never started is closed as well.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return nil
	}

	var errs []error
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
		e.watcher = nil
	}

	e.retries.Stop()

	if e.shutdownTracing != nil {
		if err := e.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if e.ownsRedis {
		if c, ok := e.redisClient.(*redis.Client); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
	}
	if err := e.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	e.state = StateStopped
	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) closeStorage() error {
	var errs []error
	if e.entries != nil {
		if err := e.entries.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory store: %w", err))
		}
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	return errors.Join(errs...)
}

// State returns the current state of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) requireRunning(op string) error {
	if e.State() != StateRunning {
		return &NotRunningError{Op: op}
	}
	return nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Metrics returns the engine's metrics manager.
func (e *Engine) Metrics() *metrics.Manager { return e.metrics }

// CreateStory stores a new story. Chapters and state start empty.
func (e *Engine) CreateStory(ctx context.Context, s *story.Story) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, err := e.repo.GetStory(ctx, s.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrStoryExists, s.ID)
	} else if !errors.Is(err, story.ErrStoryNotFound) {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := e.repo.SaveStory(ctx, s); err != nil {
		return err
	}
	e.logger.Info("story created", "story_id", s.ID, "theme", s.Theme)
	return nil
}

// Story returns a stored story.
func (e *Engine) Story(ctx context.Context, storyID string) (*story.Story, error) {
	return e.repo.GetStory(ctx, storyID)
}

// Chapters returns the stored chapters numbered from..to; to <= 0 means
// through the latest.
func (e *Engine) Chapters(ctx context.Context, storyID string, from, to int) ([]*story.Chapter, error) {
	return e.repo.GetChapters(ctx, storyID, from, to)
}

// StoryState returns the long-term state of a story.
func (e *Engine) StoryState(ctx context.Context, storyID string) (*story.State, error) {
	return e.repo.GetState(ctx, storyID)
}

// Generate produces the next chapter of a story. A budget of zero uses
// the configured default.
func (e *Engine) Generate(ctx context.Context, storyID, userChoice string, budget int) (*orchestrator.Result, error) {
	if err := e.requireRunning("generate"); err != nil {
		return nil, err
	}
	var opts []orchestrator.GenerateOption
	if budget > 0 {
		opts = append(opts, orchestrator.WithBudget(budget))
	}
	return e.orchestrator.Generate(ctx, storyID, userChoice, opts...)
}

// DeleteStory removes a story with its chapters, state and memories. It
// returns the number of memory entries removed.
func (e *Engine) DeleteStory(ctx context.Context, storyID string) (int, error) {
	unlock, err := e.locker.TryLock(ctx, storyID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return 0, orchestrator.ErrStoryBusy
		}
		return 0, err
	}
	defer unlock()

	n, err := e.hub.DeleteStory(ctx, storyID)
	if err != nil {
		return 0, err
	}
	if err := e.repo.DeleteStory(ctx, storyID); err != nil {
		return n, err
	}
	e.logger.Info("story deleted", "story_id", storyID, "memories", n)
	return n, nil
}

// Prune keeps the keep most important memories of a story.
func (e *Engine) Prune(ctx context.Context, storyID string, keep int) (int, error) {
	return e.hub.Prune(ctx, storyID, keep)
}

// Stats summarizes the memories of a story.
func (e *Engine) Stats(ctx context.Context, storyID string) (*memory.Stats, error) {
	return e.hub.Stats(ctx, storyID)
}

// Watch reloads the hot-reloadable settings whenever the file at path
// changes. It returns once the watcher is started.
func (e *Engine) Watch(ctx context.Context, path string) error {
	w, err := config.NewWatcher(path, config.NewLoader(), config.WithLogger(e.logger.Slog()))
	if err != nil {
		return err
	}
	w.OnChange(e.Reload)

	e.mu.Lock()
	if e.watcher != nil {
		e.mu.Unlock()
		_ = w.Stop()
		return fmt.Errorf("engine: already watching %s", e.watcher.ConfigPath())
	}
	e.watcher = w
	e.mu.Unlock()

	go func() {
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("config watcher stopped", "path", path, "error", err)
		}
	}()
	e.logger.Info("watching config", "path", path)
	return nil
}

// Reload applies the log level, ranking weights and coherence settings of
// cfg. Other sections need a rebuild and are ignored.
func (e *Engine) Reload(cfg *config.Config) {
	next := config.ExtractHotReloadable(cfg)

	e.mu.Lock()
	prev := e.hot
	if !prev.Changed(next) {
		e.mu.Unlock()
		return
	}
	e.hot = next
	e.mu.Unlock()

	if prev.LogLevel != next.LogLevel {
		e.logger.SetLevel(logger.ParseLevel(next.LogLevel))
	}
	if prev.Ranking != next.Ranking {
		if err := e.ranker.SetWeights(ranking.WeightsFromConfig(next.Ranking)); err != nil {
			e.logger.Warn("ranking weights rejected", "error", err)
		}
	}
	if prev.Coherence != next.Coherence {
		if err := e.scorer.SetConfig(coherence.ConfigFrom(next.Coherence)); err != nil {
			e.logger.Warn("coherence settings rejected", "error", err)
		}
	}
	e.logger.Info("configuration reloaded", "log_level", next.LogLevel)
}
