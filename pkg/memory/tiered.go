package memory

import "context"

// EntryStore persists memory entries, partitioned by story.
type EntryStore interface {
	Store(ctx context.Context, entry *MemoryEntry) error
	Get(ctx context.Context, storyID, id string) (*MemoryEntry, error)
	Delete(ctx context.Context, storyID, id string) error
	AllByStory(ctx context.Context, storyID string) ([]*MemoryEntry, error)
	DeleteByStory(ctx context.Context, storyID string) (int, error)
	Close() error
}

// TieredStorage serves point reads from an L1 cache and everything else
// from the backing store. Writes go to the backing store first.
type TieredStorage struct {
	l1 *L1Cache
	l2 EntryStore
}

// NewTieredStorage puts l1 in front of l2.
func NewTieredStorage(l1 *L1Cache, l2 EntryStore) *TieredStorage {
	return &TieredStorage{l1: l1, l2: l2}
}

func (t *TieredStorage) Store(ctx context.Context, entry *MemoryEntry) error {
	if err := t.l2.Store(ctx, entry); err != nil {
		return err
	}
	t.l1.Put(entry)
	return nil
}

// Get fills the cache on a miss.
func (t *TieredStorage) Get(ctx context.Context, storyID, id string) (*MemoryEntry, error) {
	if entry, ok := t.l1.Get(storyID, id); ok {
		return entry, nil
	}
	entry, err := t.l2.Get(ctx, storyID, id)
	if err != nil {
		return nil, err
	}
	t.l1.Put(entry)
	return entry, nil
}

func (t *TieredStorage) Delete(ctx context.Context, storyID, id string) error {
	t.l1.Delete(storyID, id)
	return t.l2.Delete(ctx, storyID, id)
}

func (t *TieredStorage) AllByStory(ctx context.Context, storyID string) ([]*MemoryEntry, error) {
	return t.l2.AllByStory(ctx, storyID)
}

func (t *TieredStorage) DeleteByStory(ctx context.Context, storyID string) (int, error) {
	t.l1.DeleteStory(storyID)
	return t.l2.DeleteByStory(ctx, storyID)
}

// Cache exposes the L1 tier for hit-rate reporting.
func (t *TieredStorage) Cache() *L1Cache {
	return t.l1
}

// Close stops the cache and closes the backing store.
func (t *TieredStorage) Close() error {
	t.l1.Close()
	return t.l2.Close()
}
