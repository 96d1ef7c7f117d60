package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/orchestrator"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/story"
)

// testConfig returns a memory-backed config with metrics off.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Provider.RateLimit = 0
	cfg.Memory.VectorDimension = 64
	cfg.Generation.InitialBackoff = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func testStory(id string) *story.Story {
	return &story.Story{
		ID:          id,
		Title:       "The Jade Road",
		Theme:       story.ThemeMartialArts,
		Protagonist: "Lin Feng",
		Background:  "A sect in decline guards a forbidden scripture.",
	}
}

func TestEngineLifecycle(t *testing.T) {
	e, err := New(testConfig(), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", e.State())
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if e.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", e.State())
	}
	if err := e.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	var nre *NotRunningError
	if err := e.Start(ctx); !errors.As(err, &nre) {
		t.Errorf("Start() after Stop error = %v, want NotRunningError", err)
	}
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		component string
	}{
		{"storage", func(c *config.Config) { c.Storage.Type = "cassandra" }, "storage"},
		{"provider", func(c *config.Config) { c.Provider.Type = "oracle" }, "provider"},
		{"lock", func(c *config.Config) { c.Lock.Backend = "zookeeper" }, "lock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(cfg, WithLogger(logger.Nop()))
			var ce *ComponentError
			if !errors.As(err, &ce) {
				t.Fatalf("New() error = %v, want ComponentError", err)
			}
			if ce.Component != tt.component {
				t.Errorf("Component = %q, want %q", ce.Component, tt.component)
			}
		})
	}
}

func TestGenerateRequiresRunning(t *testing.T) {
	e, err := New(testConfig(), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Stop(context.Background())

	_, err = e.Generate(context.Background(), "s1", "go north", 0)
	var nre *NotRunningError
	if !errors.As(err, &nre) {
		t.Fatalf("Generate() error = %v, want NotRunningError", err)
	}
}

func TestCreateStory(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	s := testStory("jade-road")
	if err := e.CreateStory(ctx, s); err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}
	if s.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
	if err := e.CreateStory(ctx, testStory("jade-road")); !errors.Is(err, ErrStoryExists) {
		t.Errorf("duplicate CreateStory() error = %v, want ErrStoryExists", err)
	}
	if err := e.CreateStory(ctx, &story.Story{ID: "x"}); !errors.Is(err, story.ErrInvalidStory) {
		t.Errorf("CreateStory() without title error = %v, want ErrInvalidStory", err)
	}

	got, err := e.Story(ctx, "jade-road")
	if err != nil {
		t.Fatalf("Story() error = %v", err)
	}
	if got.Protagonist != "Lin Feng" {
		t.Errorf("Protagonist = %q", got.Protagonist)
	}
}

func TestGenerateAndDelete(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := e.CreateStory(ctx, testStory("s1")); err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	for i, choice := range []string{"climb the cliff", "follow the elder"} {
		res, err := e.Generate(ctx, "s1", choice, 0)
		if err != nil {
			t.Fatalf("Generate(%q) error = %v", choice, err)
		}
		if res.Chapter.Number != i+1 {
			t.Errorf("chapter number = %d, want %d", res.Chapter.Number, i+1)
		}
		if res.Chapter.UserChoice != choice {
			t.Errorf("UserChoice = %q, want %q", res.Chapter.UserChoice, choice)
		}
		if res.Content() == "" {
			t.Error("empty chapter content")
		}
		if res.ExtractionErr != nil {
			t.Errorf("ExtractionErr = %v", res.ExtractionErr)
		}
	}

	chapters, err := e.Chapters(ctx, "s1", 1, 0)
	if err != nil {
		t.Fatalf("Chapters() error = %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("len(chapters) = %d, want 2", len(chapters))
	}

	st, err := e.StoryState(ctx, "s1")
	if err != nil {
		t.Fatalf("StoryState() error = %v", err)
	}
	if len(st.ExtractedChapters) != 2 {
		t.Errorf("ExtractedChapters = %v, want 2 entries", st.ExtractedChapters)
	}

	stats, err := e.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	n, err := e.DeleteStory(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteStory() error = %v", err)
	}
	if n != stats.TotalEntries {
		t.Errorf("DeleteStory() removed %d memories, want %d", n, stats.TotalEntries)
	}
	if _, err := e.Story(ctx, "s1"); !errors.Is(err, story.ErrStoryNotFound) {
		t.Errorf("Story() after delete error = %v, want ErrStoryNotFound", err)
	}
	after, err := e.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats() after delete error = %v", err)
	}
	if after.TotalEntries != 0 {
		t.Errorf("TotalEntries after delete = %d", after.TotalEntries)
	}
}

func TestGenerateUnknownStory(t *testing.T) {
	e := newTestEngine(t, testConfig())
	_, err := e.Generate(context.Background(), "missing", "wait", 0)
	if !errors.Is(err, story.ErrStoryNotFound) {
		t.Fatalf("Generate() error = %v, want ErrStoryNotFound", err)
	}
}

func TestDeleteStoryBusy(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()
	if err := e.CreateStory(ctx, testStory("s1")); err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	unlock, err := e.locker.TryLock(ctx, "s1")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := e.DeleteStory(ctx, "s1"); !errors.Is(err, orchestrator.ErrStoryBusy) {
		t.Errorf("DeleteStory() error = %v, want ErrStoryBusy", err)
	}
	unlock()

	if _, err := e.DeleteStory(ctx, "s1"); err != nil {
		t.Errorf("DeleteStory() after unlock error = %v", err)
	}
}

func TestWithProvider(t *testing.T) {
	const chapter = "```json\n{\"title\": \"Ashes\", \"content\": \"Lin Feng walked into the burning hall.\", \"summary\": \"Lin Feng entered the hall.\"}\n```"
	completer := provider.NewStaticCompleter(chapter)

	e, err := New(testConfig(), WithLogger(logger.Nop()), WithProvider(completer, provider.HashEmbedder{Dimension: 64}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop(ctx)

	if err := e.CreateStory(ctx, testStory("s1")); err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}
	res, err := e.Generate(ctx, "s1", "enter the hall", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Chapter.Title != "Ashes" {
		t.Errorf("Title = %q, want Ashes", res.Chapter.Title)
	}
	if completer.Calls() < 1 {
		t.Error("configured completer was not used")
	}
}

func TestBadgerStoragePersists(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Storage.Badger.SyncWrites = false
	cfg.Storage.Badger.ValueLogFileSize = 1 << 24

	ctx := context.Background()

	e, err := New(cfg, WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.CreateStory(ctx, testStory("s1")); err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}
	res, err := e.Generate(ctx, "s1", "light the lantern", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	reopened := newTestEngine(t, cfg)
	chapters, err := reopened.Chapters(ctx, "s1", 1, 0)
	if err != nil {
		t.Fatalf("Chapters() error = %v", err)
	}
	if len(chapters) != 1 || chapters[0].Content != res.Content() {
		t.Fatalf("chapters after reopen = %+v", chapters)
	}
	stats, err := reopened.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalEntries != len(res.Memories) {
		t.Errorf("TotalEntries = %d, want %d", stats.TotalEntries, len(res.Memories))
	}
}

func TestReload(t *testing.T) {
	e := newTestEngine(t, testConfig())

	next := testConfig()
	next.Log.Level = "debug"
	next.Ranking.SimilarityWeight = 0.5
	next.Ranking.ImportanceWeight = 0.5
	next.Ranking.RecencyWeight = 0
	next.Coherence.AcceptThreshold = 0.9
	e.Reload(next)

	want := ranking.Weights{Similarity: 0.5, Importance: 0.5, Recency: 0}
	if got := e.ranker.Weights(); got != want {
		t.Errorf("ranker weights = %+v, want %+v", got, want)
	}
	if got := e.scorer.Config().AcceptThreshold; got != 0.9 {
		t.Errorf("AcceptThreshold = %v, want 0.9", got)
	}
	if got := e.logger.GetLevel(); got != logger.DebugLevel {
		t.Errorf("log level = %v, want debug", got)
	}

	bad := testConfig()
	bad.Log.Level = "debug"
	bad.Coherence.AcceptThreshold = 0.9
	bad.Ranking.SimilarityWeight = 0
	bad.Ranking.ImportanceWeight = 0
	bad.Ranking.RecencyWeight = 0
	e.Reload(bad)
	if got := e.ranker.Weights(); got != want {
		t.Errorf("rejected weights were applied: %+v", got)
	}
}

func TestWatchRequiresPath(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.Watch(context.Background(), ""); err == nil {
		t.Fatal("Watch(\"\") error = nil")
	}
}
