package engine

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrStoryExists    = errors.New("engine: story already exists")
)

// NotRunningError is returned when an operation requires the engine to be running.
type NotRunningError struct {
	Op string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("engine is not running: %s", e.Op)
}

// ComponentError is returned when a component cannot be built from config.
type ComponentError struct {
	Component string
	Cause     error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("engine: build %s: %v", e.Component, e.Cause)
}

func (e *ComponentError) Unwrap() error { return e.Cause }
