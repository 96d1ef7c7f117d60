package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// startWatcher runs w until the test ends and waits until it is running.
func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Stop()
	})

	deadline := time.Now().Add(time.Second)
	for !w.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// fsnotify registration happens right after running is set.
	time.Sleep(50 * time.Millisecond)
}

func TestNewWatcher(t *testing.T) {
	if _, err := NewWatcher("", NewLoader()); err == nil {
		t.Fatal("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, nil, WithDebounce(40*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if w.ConfigPath() != path {
		t.Errorf("ConfigPath() = %s, want %s", w.ConfigPath(), path)
	}
	if w.debounce != 40*time.Millisecond {
		t.Errorf("debounce = %v, want 40ms", w.debounce)
	}
	if w.IsRunning() {
		t.Error("watcher running before Watch")
	}
}

func TestWatcherReloadsTunables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "ranking:\n  similarity_weight: 0.6\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	got := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { got <- cfg })
	startWatcher(t, w)

	writeConfig(t, path, "ranking:\n  similarity_weight: 0.5\n  importance_weight: 0.4\ncoherence:\n  accept_threshold: 0.75\n")

	select {
	case cfg := <-got:
		if cfg.Ranking.SimilarityWeight != 0.5 || cfg.Ranking.ImportanceWeight != 0.4 {
			t.Errorf("ranking = %+v", cfg.Ranking)
		}
		if cfg.Coherence.AcceptThreshold != 0.75 {
			t.Errorf("accept threshold = %v, want 0.75", cfg.Coherence.AcceptThreshold)
		}
		if cfg.Ranking.RecencyWeight != 0.1 {
			t.Errorf("recency weight lost its default: %v", cfg.Ranking.RecencyWeight)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(150*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	got := make(chan *Config, 8)
	w.OnChange(func(cfg *Config) { got <- cfg })
	startWatcher(t, w)

	for _, level := range []string{"warn", "error", "debug"} {
		writeConfig(t, path, "log:\n  level: "+level+"\n")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case cfg := <-got:
		if cfg.Log.Level != "debug" {
			t.Errorf("reloaded level = %s, want the last write", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after burst")
	}
	select {
	case cfg := <-got:
		t.Errorf("extra reload for one burst: %s", cfg.Log.Level)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherKeepsSettingsOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "ranking:\n  similarity_weight: 0.6\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	got := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { got <- cfg })
	startWatcher(t, w)

	writeConfig(t, path, "ranking:\n  similarity_weight: 3.0\n")

	select {
	case <-got:
		t.Fatal("invalid config was delivered")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherCallbackPanicIsContained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	got := make(chan string, 2)
	w.OnChange(func(*Config) { panic("boom") })
	w.OnChange(func(cfg *Config) { got <- cfg.Log.Level })
	startWatcher(t, w)

	writeConfig(t, path, "log:\n  level: warn\n")

	select {
	case level := <-got:
		if level != "warn" {
			t.Errorf("level = %s, want warn", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second callback did not run")
	}
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyloom.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path, NewLoader())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Watch(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for !w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v after Stop", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after Stop")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "storyloom.yaml"), NewLoader())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(context.Background()); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}

func TestHotReloadableConfig(t *testing.T) {
	cfg := DefaultConfig()
	base := ExtractHotReloadable(cfg)

	if base.Changed(ExtractHotReloadable(DefaultConfig())) {
		t.Error("identical configs reported as changed")
	}

	cfg.Coherence.AxisThreshold = 0.6
	if !base.Changed(ExtractHotReloadable(cfg)) {
		t.Error("coherence change not detected")
	}

	cfg = DefaultConfig()
	cfg.Provider.Model = "other-model"
	if base.Changed(ExtractHotReloadable(cfg)) {
		t.Error("provider settings are not hot-reloadable")
	}
}
