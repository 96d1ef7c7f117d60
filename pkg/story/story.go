// Package story holds the record side of the engine: stories, chapters and
// the structured long-term state (characters, world facts, plot threads)
// together with the repositories that persist them.
package story

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStoryNotFound      = errors.New("story: story not found")
	ErrChapterNotFound    = errors.New("story: chapter not found")
	ErrInvalidStory       = errors.New("story: invalid story")
	ErrInvalidChapter     = errors.New("story: invalid chapter")
	ErrInvalidDelta       = errors.New("story: invalid state delta")
	ErrStorageUnavailable = errors.New("story: storage unavailable")
)

// Theme selects the genre framing placed in front of every prompt.
type Theme string

const (
	ThemeUrban       Theme = "urban"
	ThemeSciFi       Theme = "scifi"
	ThemeCultivation Theme = "cultivation"
	ThemeMartialArts Theme = "martial_arts"
	ThemeFantasy     Theme = "fantasy"
	ThemeRomance     Theme = "romance"
	ThemeMystery     Theme = "mystery"
	ThemeHistorical  Theme = "historical"
)

var themePrefixes = map[Theme]string{
	ThemeUrban:       "Modern city setting, realist tone, focused on urban life and relationships.",
	ThemeSciFi:       "Science fiction setting with future technology, space exploration and artificial intelligence.",
	ThemeCultivation: "Cultivation world of spiritual energy, refining techniques, artifacts and elixirs.",
	ThemeMartialArts: "Martial world of secret techniques, chivalry and sworn loyalties in an ancient setting.",
	ThemeFantasy:     "Fantasy world with magic, mythical creatures and adventure.",
	ThemeRomance:     "Love story driven by emotion, romance and shifting relationships.",
	ThemeMystery:     "Mystery with puzzles to solve, rising tension and careful deduction.",
	ThemeHistorical:  "Historical setting grounded in real events, period culture and historical figures.",
}

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	_, ok := themePrefixes[t]
	return ok
}

// PromptPrefix returns the genre framing for t, or a generic one.
func (t Theme) PromptPrefix() string {
	if p, ok := themePrefixes[t]; ok {
		return p
	}
	return "General story setting."
}

// ParseTheme normalizes s ("Martial Arts", "sci-fi") into a Theme.
func ParseTheme(s string) (Theme, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "").Replace(norm)
	if norm == "martialarts" {
		norm = string(ThemeMartialArts)
	}
	t := Theme(norm)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown theme %q", ErrInvalidStory, s)
	}
	return t, nil
}

// Story is the root record every chapter, state and memory belongs to.
type Story struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Theme       Theme     `json:"theme"`
	Protagonist string    `json:"protagonist,omitempty"`
	Background  string    `json:"background,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the story before it is stored.
func (s *Story) Validate() error {
	if s == nil {
		return ErrInvalidStory
	}
	if !validID(s.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidStory, s.ID)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidStory)
	}
	if s.Theme != "" && !s.Theme.Valid() {
		return fmt.Errorf("%w: unknown theme %q", ErrInvalidStory, s.Theme)
	}
	return nil
}

// Chapter is one generated installment.
type Chapter struct {
	StoryID string `json:"story_id"`
	Number  int    `json:"number"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`

	// Summary is the short recap preferred over Content when budgeting.
	Summary     string   `json:"summary,omitempty"`
	KeyElements []string `json:"key_elements,omitempty"`
	Mood        string   `json:"mood,omitempty"`

	// UserChoice is the choice that led to this chapter.
	UserChoice           string `json:"user_choice,omitempty"`
	CharacterDevelopment string `json:"character_development,omitempty"`
	ChoiceSetup          string `json:"choice_setup,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the chapter before it is stored.
func (c *Chapter) Validate() error {
	switch {
	case c == nil:
		return ErrInvalidChapter
	case !validID(c.StoryID):
		return fmt.Errorf("%w: story id %q", ErrInvalidChapter, c.StoryID)
	case c.Number < 1:
		return fmt.Errorf("%w: number %d", ErrInvalidChapter, c.Number)
	case strings.TrimSpace(c.Content) == "":
		return fmt.Errorf("%w: empty content", ErrInvalidChapter)
	}
	return nil
}

// Digest returns the text a budgeted context should carry for c.
func (c *Chapter) Digest() string {
	if s := strings.TrimSpace(c.Summary); s != "" {
		return s
	}
	return c.Content
}

func cloneChapter(c *Chapter) *Chapter {
	if c == nil {
		return nil
	}
	out := *c
	out.KeyElements = append([]string(nil), c.KeyElements...)
	return &out
}

// validID mirrors the memory key rules: story ids scope composite keys and
// must not contain separators.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":/")
}
