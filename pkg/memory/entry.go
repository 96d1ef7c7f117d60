// Package memory provides the semantic memory tier of the story engine:
// embedded facts and events, a story-scoped vector index, and a tiered
// (LRU + Badger) entry store behind it.
package memory

import (
	"fmt"
	"strings"
)

// MemoryType classifies what kind of story fact a memory entry records.
type MemoryType string

const (
	TypeAbilityDiscovery     MemoryType = "ability-discovery"
	TypeCharacterInteraction MemoryType = "character-interaction"
	TypePlotDevelopment      MemoryType = "plot-development"
	TypeWorldFact            MemoryType = "world-fact"
	TypeForeshadowing        MemoryType = "foreshadowing"
	TypeWarning              MemoryType = "warning"
	TypeItemGiving           MemoryType = "item-giving"
	TypeChoice               MemoryType = "choice"
	TypeEmotion              MemoryType = "emotion"
	TypeSetting              MemoryType = "setting"
)

var knownTypes = map[MemoryType]struct{}{
	TypeAbilityDiscovery:     {},
	TypeCharacterInteraction: {},
	TypePlotDevelopment:      {},
	TypeWorldFact:            {},
	TypeForeshadowing:        {},
	TypeWarning:              {},
	TypeItemGiving:           {},
	TypeChoice:               {},
	TypeEmotion:              {},
	TypeSetting:              {},
}

// Valid reports whether t belongs to the closed set of memory types.
func (t MemoryType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ParseMemoryType normalizes s ("Plot_Development", "plot development", ...)
// and returns the matching type.
func ParseMemoryType(s string) (MemoryType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	t := MemoryType(norm)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// MemoryEntry is a single embedded fact or event of a story.
type MemoryEntry struct {
	// ID is derived from story, chapter, sequence and type (see EntryID).
	ID string `json:"id"`

	// StoryID scopes the entry; every index query filters on it.
	StoryID string `json:"story_id"`

	// ChapterNumber is the chapter the fact was extracted from (>= 1).
	ChapterNumber int `json:"chapter_number"`

	// Sequence is the position of the statement within its chapter.
	Sequence int `json:"sequence"`

	// Content is the normalized statement.
	Content string `json:"content"`

	// Embedding is never mutated after creation.
	Embedding []float32 `json:"embedding,omitempty"`

	MemoryType MemoryType `json:"memory_type"`

	// Importance is assigned at creation, in [0,1].
	Importance float64 `json:"importance"`

	Characters []string `json:"characters,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`

	// CreatedAt is chapter-relative: chapter*1000 + sequence.
	CreatedAt int64 `json:"created_at"`

	// RelatedMemoryIDs are weak references; targets may not exist.
	RelatedMemoryIDs []string `json:"related_memory_ids,omitempty"`
}

// EntryID builds the stable identifier of the seq-th statement of a chapter.
// Re-extracting the same chapter yields the same ids, which makes writes
// upserts rather than duplicates.
func EntryID(storyID string, chapter, seq int, t MemoryType) string {
	return fmt.Sprintf("%s:c%04d:s%03d:%s", storyID, chapter, seq, t)
}

// ChapterTimestamp returns the chapter-relative creation stamp.
func ChapterTimestamp(chapter, seq int) int64 {
	return int64(chapter)*1000 + int64(seq)
}

// Validate checks the entry invariants enforced at the store boundary.
func (e *MemoryEntry) Validate(dimension int) error {
	switch {
	case e == nil:
		return ErrInvalidEntry
	case e.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	case e.StoryID == "":
		return ErrInvalidStoryID
	case e.ChapterNumber < 1:
		return fmt.Errorf("%w: chapter %d", ErrInvalidEntry, e.ChapterNumber)
	case e.Importance < 0 || e.Importance > 1:
		return fmt.Errorf("%w: importance %.3f outside [0,1]", ErrInvalidEntry, e.Importance)
	case !e.MemoryType.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidType, e.MemoryType)
	}
	if dimension > 0 && len(e.Embedding) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(e.Embedding))
	}
	return nil
}

// Filter restricts an index query.
type Filter struct {
	// StoryID is mandatory.
	StoryID string

	// Types, when non-empty, admits only the listed memory types.
	Types []MemoryType

	// MinImportance drops entries below the floor.
	MinImportance float64
}

// Accepts reports whether e passes the filter.
func (f Filter) Accepts(e *MemoryEntry) bool {
	if e == nil || e.StoryID != f.StoryID {
		return false
	}
	if e.Importance < f.MinImportance {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.MemoryType == t {
			return true
		}
	}
	return false
}

// Match is a query hit with its raw cosine similarity.
type Match struct {
	Entry      *MemoryEntry `json:"entry"`
	Similarity float64      `json:"similarity"`
}

// Stats summarizes the memory of one story.
type Stats struct {
	TotalEntries      int                `json:"total_entries"`
	AverageImportance float64            `json:"average_importance"`
	ByType            map[MemoryType]int `json:"by_type,omitempty"`
}
