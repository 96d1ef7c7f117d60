// Package logger provides structured logging for storyloom.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/storyloom/storyloom/config"
)

// Level represents logging levels.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

var slogLevels = [...]slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

func (l Level) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "unknown"
	}
	return levelNames[l]
}

func (l Level) slog() slog.Level {
	if l < DebugLevel || l > ErrorLevel {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

func levelOf(s slog.Level) Level {
	for i := len(slogLevels) - 1; i > 0; i-- {
		if s >= slogLevels[i] {
			return Level(i)
		}
	}
	return DebugLevel
}

// ParseLevel parses a level name; unknown names mean info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return InfoLevel
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "json" or "text"
	Output string // "stdout", "stderr", "discard", or file path
}

// FromAppConfig converts the log section of the application config.
func FromAppConfig(cfg config.LogConfig) *Config {
	return &Config{
		Level:  ParseLevel(cfg.Level),
		Format: cfg.Format,
		Output: cfg.Output,
	}
}

// Logger is the interface for structured logging. The Context variants add
// the trace and span ids of ctx.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger

	SetLevel(level Level)
	GetLevel() Level

	// Slog exposes the underlying slog logger for libraries that take one.
	Slog() *slog.Logger

	Close() error
}

// SlogLogger implements Logger on log/slog. Loggers derived with With share
// the level and output of their root.
type SlogLogger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

var _ Logger = (*SlogLogger)(nil)

// New creates a Logger. A nil cfg logs info and above as JSON to stdout.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json", Output: "stdout"}
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level.slog())

	w, closer := openOutput(cfg.Output)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.Level == DebugLevel,
		ReplaceAttr: renameMessage,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &SlogLogger{
		Logger: slog.New(traceHandler{h}),
		level:  level,
		closer: closer,
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return New(&Config{Level: ErrorLevel, Format: "text", Output: "discard"})
}

// renameMessage writes the message under "message" for log shippers that
// expect it.
func renameMessage(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.MessageKey {
		a.Key = "message"
	}
	return a
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{Logger: l.Logger.With(args...), level: l.level}
}

// SetLevel changes the level of l and every logger derived from it.
func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(level.slog())
}

func (l *SlogLogger) GetLevel() Level {
	return levelOf(l.level.Level())
}

func (l *SlogLogger) Slog() *slog.Logger {
	return l.Logger
}

// Close closes the output file, if the logger opened one.
func (l *SlogLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ForStory scopes a logger to one story.
func ForStory(l Logger, storyID string) Logger {
	if l == nil {
		l = Global()
	}
	return l.With("story_id", storyID)
}
