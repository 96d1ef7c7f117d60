package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/storyloom/storyloom/config"
)

// Hub is the concrete Index: a story-partitioned vector index in front of a
// tiered entry store. Vectors of a story are loaded from storage the first
// time the story is touched, so a restarted process sees persisted memories.
type Hub struct {
	mu sync.Mutex

	cfg     config.MemoryConfig
	storage EntryStore
	vector  *VectorIndex
	logger  hubLogger
	loaded  map[string]bool
}

var _ Index = (*Hub)(nil)

// hubLogger is the minimal logger interface used by Hub.
type hubLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopHubLogger struct{}

func (nopHubLogger) Debug(string, ...any) {}
func (nopHubLogger) Info(string, ...any)  {}
func (nopHubLogger) Warn(string, ...any)  {}

// NewHub creates a Hub from configuration and storage.
func NewHub(cfg config.MemoryConfig, storage EntryStore, logger hubLogger) *Hub {
	if logger == nil {
		logger = nopHubLogger{}
	}
	return &Hub{
		cfg:     cfg,
		storage: storage,
		vector:  NewVectorIndex(cfg.VectorDimension),
		logger:  logger,
		loaded:  make(map[string]bool),
	}
}

// ValidStoryID reports whether id can scope memory keys.
func ValidStoryID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":/")
}

// ensureLoaded rebuilds the vectors of a story from storage once.
func (h *Hub) ensureLoaded(ctx context.Context, storyID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded[storyID] {
		return nil
	}
	entries, err := h.storage.AllByStory(ctx, storyID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := h.vector.Put(storyID, e.ID, e.Embedding); err != nil {
			h.logger.Warn("skipping memory with bad embedding", "story_id", storyID, "entry_id", e.ID, "error", err)
		}
	}
	h.loaded[storyID] = true
	if len(entries) > 0 {
		h.logger.Debug("loaded story memories", "story_id", storyID, "count", len(entries))
	}
	return nil
}

// Upsert stores or replaces an entry. Entries are immutable once written:
// re-extraction writes an identical entry under the same id.
func (h *Hub) Upsert(ctx context.Context, entry *MemoryEntry) error {
	if entry == nil || !ValidStoryID(entry.StoryID) {
		return ErrInvalidStoryID
	}
	if err := entry.Validate(h.vector.Dimension()); err != nil {
		return err
	}
	if err := h.ensureLoaded(ctx, entry.StoryID); err != nil {
		return err
	}

	stored := cloneEntry(entry)
	if err := h.storage.Store(ctx, stored); err != nil {
		return fmt.Errorf("memory: store failed: %w", err)
	}
	return h.vector.Put(stored.StoryID, stored.ID, stored.Embedding)
}

// Query returns up to k entries of filter.StoryID most similar to vector.
func (h *Hub) Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error) {
	if !ValidStoryID(filter.StoryID) {
		return nil, ErrInvalidStoryID
	}
	if len(vector) == 0 {
		return nil, ErrInvalidQuery
	}
	if k <= 0 {
		return nil, nil
	}
	if err := h.ensureLoaded(ctx, filter.StoryID); err != nil {
		return nil, err
	}

	entries := make(map[string]*MemoryEntry)
	accept := func(id string) bool {
		e, err := h.storage.Get(ctx, filter.StoryID, id)
		if err != nil {
			return false
		}
		if !filter.Accepts(e) {
			return false
		}
		entries[id] = e
		return true
	}

	hits, err := h.vector.Search(filter.StoryID, vector, k, accept)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]Match, len(hits))
	for i, r := range hits {
		matches[i] = Match{Entry: entries[r.ID], Similarity: r.Score}
	}
	return matches, nil
}

// List returns every entry of a story ordered by creation.
func (h *Hub) List(ctx context.Context, storyID string) ([]*MemoryEntry, error) {
	if !ValidStoryID(storyID) {
		return nil, ErrInvalidStoryID
	}
	entries, err := h.storage.AllByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// Delete removes entries by id.
func (h *Hub) Delete(ctx context.Context, storyID string, ids []string) error {
	if !ValidStoryID(storyID) {
		return ErrInvalidStoryID
	}
	for _, id := range ids {
		h.vector.Remove(storyID, id)
		if err := h.storage.Delete(ctx, storyID, id); err != nil {
			return fmt.Errorf("memory: delete %s: %w", id, err)
		}
	}
	return nil
}

// DeleteStory removes all memory of a story.
func (h *Hub) DeleteStory(ctx context.Context, storyID string) (int, error) {
	if !ValidStoryID(storyID) {
		return 0, ErrInvalidStoryID
	}
	h.mu.Lock()
	delete(h.loaded, storyID)
	h.mu.Unlock()
	h.vector.RemoveStory(storyID)

	n, err := h.storage.DeleteByStory(ctx, storyID)
	if err != nil {
		return 0, fmt.Errorf("memory: delete story: %w", err)
	}
	h.logger.Info("deleted story memories", "story_id", storyID, "count", n)
	return n, nil
}

// Prune keeps the keep most valuable entries of a story (highest importance,
// then most recent) and deletes the rest. It returns the number removed.
func (h *Hub) Prune(ctx context.Context, storyID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: negative keep %d", ErrInvalidEntry, keep)
	}
	entries, err := h.List(ctx, storyID)
	if err != nil {
		return 0, err
	}
	if len(entries) <= keep {
		return 0, nil
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
	drop := entries[keep:]
	ids := make([]string, len(drop))
	for i, e := range drop {
		ids[i] = e.ID
	}
	if err := h.Delete(ctx, storyID, ids); err != nil {
		return 0, err
	}
	h.logger.Info("pruned story memories", "story_id", storyID, "removed", len(ids), "kept", keep)
	return len(ids), nil
}

// Stats summarizes the memory of a story.
func (h *Hub) Stats(ctx context.Context, storyID string) (*Stats, error) {
	entries, err := h.List(ctx, storyID)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalEntries: len(entries), ByType: make(map[MemoryType]int)}
	total := 0.0
	for _, e := range entries {
		total += e.Importance
		stats.ByType[e.MemoryType]++
	}
	if len(entries) > 0 {
		stats.AverageImportance = total / float64(len(entries))
	}
	return stats, nil
}

// Dimension returns the embedding dimension accepted by the hub.
func (h *Hub) Dimension() int {
	return h.vector.Dimension()
}
