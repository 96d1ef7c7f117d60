package memory

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// L1Cache holds hot entries in front of the persistent store. Admission is
// frequency based, so a Put is a hint: a later Get may still miss.
type L1Cache struct {
	cache *ristretto.Cache[string, *MemoryEntry]

	// byStory tracks cached ids so a story can be dropped as a whole.
	mu      sync.Mutex
	byStory map[string]map[string]struct{}
}

// NewL1Cache creates a cache holding roughly capacity entries.
func NewL1Cache(capacity int) (*L1Cache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	c := &L1Cache{byStory: make(map[string]map[string]struct{})}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *MemoryEntry]{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[*MemoryEntry]) {
			if item.Value != nil {
				c.forget(item.Value.StoryID, item.Value.ID)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create l1 cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func cacheKey(storyID, id string) string {
	return storyID + "/" + id
}

// Get returns a copy of the cached entry.
func (c *L1Cache) Get(storyID, id string) (*MemoryEntry, bool) {
	entry, ok := c.cache.Get(cacheKey(storyID, id))
	if !ok {
		return nil, false
	}
	return cloneEntry(entry), true
}

// Put offers a copy of entry to the cache.
func (c *L1Cache) Put(entry *MemoryEntry) {
	if !c.cache.Set(cacheKey(entry.StoryID, entry.ID), cloneEntry(entry), 1) {
		return
	}
	c.mu.Lock()
	ids, ok := c.byStory[entry.StoryID]
	if !ok {
		ids = make(map[string]struct{})
		c.byStory[entry.StoryID] = ids
	}
	ids[entry.ID] = struct{}{}
	c.mu.Unlock()
}

// Delete drops one entry.
func (c *L1Cache) Delete(storyID, id string) {
	c.cache.Del(cacheKey(storyID, id))
	c.forget(storyID, id)
}

// DeleteStory drops every cached entry of a story.
func (c *L1Cache) DeleteStory(storyID string) {
	c.mu.Lock()
	ids := c.byStory[storyID]
	delete(c.byStory, storyID)
	c.mu.Unlock()

	for id := range ids {
		c.cache.Del(cacheKey(storyID, id))
	}
}

func (c *L1Cache) forget(storyID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ids, ok := c.byStory[storyID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(c.byStory, storyID)
		}
	}
}

// Wait blocks until buffered writes are applied.
func (c *L1Cache) Wait() {
	c.cache.Wait()
}

// HitRate returns the hit ratio and the number of lookups.
func (c *L1Cache) HitRate() (float64, uint64) {
	m := c.cache.Metrics
	return m.Ratio(), m.Hits() + m.Misses()
}

// Close stops the cache goroutines.
func (c *L1Cache) Close() {
	c.cache.Close()
}
