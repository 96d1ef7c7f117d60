package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailed is returned when the generative service keeps
	// failing after retries.
	ErrGenerationFailed = errors.New("orchestrator: generation failed")

	// ErrStoryBusy is returned when another generation holds the story.
	ErrStoryBusy = errors.New("orchestrator: story busy")

	// ErrCoherenceBelowThreshold flags a result whose best attempt was not
	// accepted. It is carried in Result.Err, never returned.
	ErrCoherenceBelowThreshold = errors.New("orchestrator: coherence below threshold")
)

// GenerationError is returned when an attempt's generative call fails after
// all retries.
type GenerationError struct {
	StoryID string
	Attempt int
	Retries int
	Cause   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("orchestrator: story %q attempt %d failed after %d retries: %v", e.StoryID, e.Attempt, e.Retries, e.Cause)
}

// Unwrap exposes both the sentinel and the provider cause.
func (e *GenerationError) Unwrap() []error { return []error{ErrGenerationFailed, e.Cause} }
