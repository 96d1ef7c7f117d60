package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/coherence"
	"github.com/storyloom/storyloom/pkg/engine"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/orchestrator"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// Story selection
	storyID     = flag.String("story", "", "Story ID")
	title       = flag.String("title", "", "Create the story with this title if it does not exist")
	theme       = flag.String("theme", "", "Theme of a created story")
	protagonist = flag.String("protagonist", "", "Protagonist of a created story")
	background  = flag.String("background", "", "Background of a created story")
	choice      = flag.String("choice", "", "Player choice that drives the next chapter")
	budget      = flag.Int("budget", 0, "Context budget (0 uses the configured default)")
	deleteFlag  = flag.Bool("delete", false, "Delete the story and its memories")
	serve       = flag.Bool("serve", false, "Keep running to serve metrics and reload config until interrupted")

	// CLI overrides
	logLevel  = flag.String("log-level", "", "Override log level")
	debugMode = flag.Bool("debug", false, "Enable debug mode")
)

// options is the parsed command line.
type options struct {
	ConfigPath  string
	StoryID     string
	Title       string
	Theme       string
	Protagonist string
	Background  string
	Choice      string
	Budget      int
	Delete      bool
	Serve       bool
	Overrides   map[string]interface{}
}

// output is what a run prints.
type output struct {
	StoryID      string            `json:"story_id"`
	Created      bool              `json:"created,omitempty"`
	Deleted      int               `json:"deleted_memories,omitempty"`
	Chapter      *story.Chapter    `json:"chapter,omitempty"`
	Report       *coherence.Report `json:"report,omitempty"`
	Accepted     bool              `json:"accepted"`
	Attempts     int               `json:"attempts,omitempty"`
	Memories     int               `json:"memories,omitempty"`
	Warning      string            `json:"warning,omitempty"`
	GenerationID string            `json:"generation_id,omitempty"`
}

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := options{
		ConfigPath:  *configPath,
		StoryID:     *storyID,
		Title:       *title,
		Theme:       *theme,
		Protagonist: *protagonist,
		Background:  *background,
		Choice:      *choice,
		Budget:      *budget,
		Delete:      *deleteFlag,
		Serve:       *serve,
		Overrides:   buildOverrides(),
	}
	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "storyloom: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := config.Load(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := logger.FromAppConfig(cfg.Log)
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	defer log.Close()

	log.Info("starting storyloom", append(version.Fields(), "environment", cfg.App.Environment)...)
	log.Debug("configuration loaded", "config", cfg.String())

	eng, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(context.Background())
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.Stop(shutdownCtx); err != nil {
			log.Error("error during engine shutdown", "error", err)
		}
	}()

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if m := eng.Metrics(); m.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := m.StartServer(metricsCtx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	if opts.Serve && opts.ConfigPath != "" {
		if err := eng.Watch(ctx, opts.ConfigPath); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		}
	}

	if opts.StoryID != "" {
		out, err := runStory(ctx, eng, opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if opts.Serve {
		log.Info("storyloom is running, press Ctrl+C to stop")
		<-ctx.Done()
		log.Info("shutting down")
	}
	return nil
}

// runStory performs the story operations selected on the command line.
func runStory(ctx context.Context, eng *engine.Engine, opts options) (*output, error) {
	out := &output{StoryID: opts.StoryID}

	if opts.Delete {
		n, err := eng.DeleteStory(ctx, opts.StoryID)
		if err != nil {
			return nil, fmt.Errorf("delete story: %w", err)
		}
		out.Deleted = n
		return out, nil
	}

	if opts.Title != "" {
		var th story.Theme
		if opts.Theme != "" {
			var err error
			if th, err = story.ParseTheme(opts.Theme); err != nil {
				return nil, err
			}
		}
		err := eng.CreateStory(ctx, &story.Story{
			ID:          opts.StoryID,
			Title:       opts.Title,
			Theme:       th,
			Protagonist: opts.Protagonist,
			Background:  opts.Background,
		})
		switch {
		case err == nil:
			out.Created = true
		case errors.Is(err, engine.ErrStoryExists):
		default:
			return nil, fmt.Errorf("create story: %w", err)
		}
	}

	if opts.Choice == "" {
		return out, nil
	}

	res, err := eng.Generate(ctx, opts.StoryID, opts.Choice, opts.Budget)
	if err != nil {
		if errors.Is(err, orchestrator.ErrStoryBusy) {
			return nil, fmt.Errorf("story %s is generating in another process", opts.StoryID)
		}
		return nil, fmt.Errorf("generate: %w", err)
	}
	out.GenerationID = res.GenerationID
	out.Chapter = res.Chapter
	out.Report = res.Report
	out.Accepted = res.Accepted
	out.Attempts = res.Attempts
	out.Memories = len(res.Memories)
	if res.Err != nil {
		out.Warning = res.Err.Error()
	}
	if res.ExtractionErr != nil {
		out.Warning = "memory extraction queued for retry: " + res.ExtractionErr.Error()
	}
	return out, nil
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Println(version.String())
}

func printHelp() {
	fmt.Printf("Storyloom - memory-aware chapter generation for interactive stories\n\n")
	fmt.Printf("Usage: storyloom [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  storyloom -story s1 -title \"Jade Road\" -theme martial_arts   # Create a story\n")
	fmt.Printf("  storyloom -story s1 -choice \"follow the elder\"              # Generate the next chapter\n")
	fmt.Printf("  storyloom -config storyloom.yaml -serve                       # Serve metrics, hot reload config\n")
	fmt.Printf("  storyloom -story s1 -delete                                   # Delete a story\n")
}
