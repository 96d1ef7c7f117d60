package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Badger keys are memory:{storyID}:{entryID}. Story ids never contain a
// colon (see ValidStoryID), so a story prefix never matches another story.
const memoryKeyPrefix = "memory:"

func entryKey(storyID, entryID string) []byte {
	return append(storyPrefix(storyID), entryID...)
}

func storyPrefix(storyID string) []byte {
	return []byte(memoryKeyPrefix + storyID + ":")
}

// L2Badger persists entries in a Badger database it does not own.
type L2Badger struct {
	db *badger.DB
}

// NewL2Badger wraps an open database. Closing the database is left to its
// opener.
func NewL2Badger(db *badger.DB) *L2Badger {
	return &L2Badger{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (s *L2Badger) Store(_ context.Context, entry *MemoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory: encode entry %s: %w", entry.ID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.StoryID, entry.ID), data)
	}); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *L2Badger) Get(_ context.Context, storyID, id string) (*MemoryEntry, error) {
	entry := new(MemoryEntry)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(storyID, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, entry) })
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, unavailable(err)
	}
	return entry, nil
}

// Delete is idempotent.
func (s *L2Badger) Delete(_ context.Context, storyID, id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(storyID, id))
	}); err != nil {
		return unavailable(err)
	}
	return nil
}

// scan calls fn for every key of a story. Values are only fetched when
// withValues is set.
func (s *L2Badger) scan(storyID string, withValues bool, fn func(item *badger.Item) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = storyPrefix(storyID)
		opts.PrefetchValues = withValues
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := fn(it.Item()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *L2Badger) AllByStory(_ context.Context, storyID string) ([]*MemoryEntry, error) {
	var entries []*MemoryEntry
	err := s.scan(storyID, true, func(item *badger.Item) error {
		return item.Value(func(val []byte) error {
			entry := new(MemoryEntry)
			if err := json.Unmarshal(val, entry); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// DeleteByStory collects the keys of a story and removes them in one write
// batch, which is not bounded by the transaction size limit.
func (s *L2Badger) DeleteByStory(_ context.Context, storyID string) (int, error) {
	var keys [][]byte
	if err := s.scan(storyID, false, func(item *badger.Item) error {
		keys = append(keys, item.KeyCopy(nil))
		return nil
	}); err != nil {
		return 0, unavailable(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return 0, unavailable(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, unavailable(err)
	}
	return len(keys), nil
}

// Close leaves the shared database open.
func (s *L2Badger) Close() error { return nil }
