package logger

import "sync/atomic"

var global atomic.Value

func init() {
	global.Store(holder{New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})})
}

// holder keeps the stored dynamic type constant for atomic.Value.
type holder struct{ Logger }

// Global returns the process-wide logger.
func Global() Logger {
	return global.Load().(holder).Logger
}

// SetGlobal replaces the process-wide logger. nil is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(holder{l})
	}
}

// SetLevel sets the level of the global logger.
func SetLevel(level Level) { Global().SetLevel(level) }

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }
