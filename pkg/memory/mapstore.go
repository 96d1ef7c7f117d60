package memory

import (
	"context"
	"sort"
	"sync"
)

// MapStore keeps entries in process memory. It backs the "memory" storage
// type and tests.
type MapStore struct {
	mu      sync.RWMutex
	stories map[string]map[string]*MemoryEntry
}

// NewMapStore creates an empty in-memory entry store.
func NewMapStore() *MapStore {
	return &MapStore{stories: make(map[string]map[string]*MemoryEntry)}
}

func (m *MapStore) Store(_ context.Context, entry *MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stories[entry.StoryID] == nil {
		m.stories[entry.StoryID] = make(map[string]*MemoryEntry)
	}
	m.stories[entry.StoryID][entry.ID] = cloneEntry(entry)
	return nil
}

func (m *MapStore) Get(_ context.Context, storyID, id string) (*MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.stories[storyID][id]; ok {
		return cloneEntry(entry), nil
	}
	return nil, ErrNotFound
}

func (m *MapStore) Delete(_ context.Context, storyID, id string) error {
	m.mu.Lock()
	delete(m.stories[storyID], id)
	m.mu.Unlock()
	return nil
}

// AllByStory returns copies ordered by id.
func (m *MapStore) AllByStory(_ context.Context, storyID string) ([]*MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MemoryEntry, 0, len(m.stories[storyID]))
	for _, entry := range m.stories[storyID] {
		out = append(out, cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MapStore) DeleteByStory(_ context.Context, storyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.stories[storyID])
	delete(m.stories, storyID)
	return n, nil
}

func (m *MapStore) Close() error { return nil }
