package memory

import (
	"context"
	"errors"
)

// Sentinel errors for the memory tier.
var (
	ErrInvalidStoryID     = errors.New("memory: invalid story ID")
	ErrInvalidEntry       = errors.New("memory: invalid entry")
	ErrInvalidType        = errors.New("memory: unknown memory type")
	ErrInvalidQuery       = errors.New("memory: invalid query (empty vector)")
	ErrDimensionMismatch  = errors.New("memory: vector dimension mismatch")
	ErrStorageUnavailable = errors.New("memory: storage unavailable")
	ErrNotFound           = errors.New("memory: entry not found")
)

// Index is the vector index consumed by the retriever and the extractor.
// Every query is scoped by Filter.StoryID.
type Index interface {
	// Upsert stores or replaces the entry with the same ID.
	Upsert(ctx context.Context, entry *MemoryEntry) error

	// Query returns up to k entries passing the filter, most similar first.
	Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error)

	// List returns every entry of a story ordered by chapter then sequence.
	List(ctx context.Context, storyID string) ([]*MemoryEntry, error)

	// Delete removes entries by ID.
	Delete(ctx context.Context, storyID string, ids []string) error

	// DeleteStory removes every entry of a story and returns the count.
	DeleteStory(ctx context.Context, storyID string) (int, error)
}
