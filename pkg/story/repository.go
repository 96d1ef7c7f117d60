package story

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository persists stories, chapters and structured state.
type Repository interface {
	// Story lifecycle
	SaveStory(ctx context.Context, s *Story) error
	GetStory(ctx context.Context, storyID string) (*Story, error)
	DeleteStory(ctx context.Context, storyID string) error

	// Chapters. GetChapters returns chapters in [from, to] ascending; missing
	// numbers are skipped and to <= 0 leaves the range open-ended.
	SaveChapter(ctx context.Context, c *Chapter) error
	GetChapters(ctx context.Context, storyID string, from, to int) ([]*Chapter, error)
	LatestChapter(ctx context.Context, storyID string) (int, error)

	// Structured state. PutState applies the delta atomically per story and
	// returns the resulting state.
	GetState(ctx context.Context, storyID string) (*State, error)
	PutState(ctx context.Context, storyID string, delta *Delta) (*State, error)

	Close() error
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	stories  map[string]*Story
	chapters map[string]map[int]*Chapter
	states   map[string]*State
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stories:  make(map[string]*Story),
		chapters: make(map[string]map[int]*Chapter),
		states:   make(map[string]*State),
	}
}

func (r *MemoryRepository) SaveStory(_ context.Context, s *Story) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stories[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetStory(_ context.Context, storyID string) (*Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stories[storyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) DeleteStory(_ context.Context, storyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stories[storyID]; !ok {
		return fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	delete(r.stories, storyID)
	delete(r.chapters, storyID)
	delete(r.states, storyID)
	return nil
}

func (r *MemoryRepository) SaveChapter(_ context.Context, c *Chapter) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stories[c.StoryID]; !ok {
		return fmt.Errorf("%w: %s", ErrStoryNotFound, c.StoryID)
	}
	chapters, ok := r.chapters[c.StoryID]
	if !ok {
		chapters = make(map[int]*Chapter)
		r.chapters[c.StoryID] = chapters
	}
	chapters[c.Number] = cloneChapter(c)
	return nil
}

func (r *MemoryRepository) GetChapters(_ context.Context, storyID string, from, to int) ([]*Chapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.stories[storyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	var out []*Chapter
	for n, c := range r.chapters[storyID] {
		if n >= from && (to <= 0 || n <= to) {
			out = append(out, cloneChapter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryRepository) LatestChapter(_ context.Context, storyID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.stories[storyID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	latest := 0
	for n := range r.chapters[storyID] {
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

func (r *MemoryRepository) GetState(_ context.Context, storyID string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.stories[storyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	if st, ok := r.states[storyID]; ok {
		return st.Clone(), nil
	}
	return NewState(storyID), nil
}

func (r *MemoryRepository) PutState(_ context.Context, storyID string, delta *Delta) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stories[storyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	st, ok := r.states[storyID]
	if !ok {
		st = NewState(storyID)
	}
	next := st.Clone()
	if err := next.Apply(delta); err != nil {
		return nil, err
	}
	r.states[storyID] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Close() error { return nil }
