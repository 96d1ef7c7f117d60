package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for BadgerRepository.
type BadgerConfig struct {
	Path             string
	SyncWrites       bool
	ValueLogFileSize int64
}

// SerializationError wraps a JSON encode/decode failure.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("story: %s failed: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// maxConflictRetries bounds optimistic retries of PutState.
const maxConflictRetries = 3

// BadgerRepository implements Repository on Badger. Keys:
//
//	story:{id}                  story record
//	story:{id}:chapter:{n:06d}  chapter n
//	story:{id}:state            structured state
type BadgerRepository struct {
	db     *badger.DB
	ownsDB bool
}

var _ Repository = (*BadgerRepository)(nil)

// OpenBadgerRepository opens (or creates) a database at cfg.Path.
func OpenBadgerRepository(cfg BadgerConfig) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &BadgerRepository{db: db, ownsDB: true}, nil
}

// NewBadgerRepository wraps an already open database. Close leaves it open.
func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db}
}

// DB exposes the underlying database so other stores can share it.
func (b *BadgerRepository) DB() *badger.DB {
	return b.db
}

func storyKey(id string) []byte {
	return []byte("story:" + id)
}

func storyPrefix(id string) []byte {
	return []byte("story:" + id + ":")
}

func chapterKey(id string, n int) []byte {
	return []byte(fmt.Sprintf("story:%s:chapter:%06d", id, n))
}

func chapterPrefix(id string) []byte {
	return []byte("story:" + id + ":chapter:")
}

func stateKey(id string) []byte {
	return []byte("story:" + id + ":state")
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

func unavailable(err error) error {
	var serr *SerializationError
	if err == nil || errors.As(err, &serr) || errors.Is(err, ErrStoryNotFound) || errors.Is(err, ErrInvalidDelta) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func requireStory(txn *badger.Txn, storyID string) error {
	if _, err := txn.Get(storyKey(storyID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
		}
		return err
	}
	return nil
}

func (b *BadgerRepository) SaveStory(_ context.Context, s *Story) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		cp := *s
		cp.CreatedAt = time.Now().UTC()
		s = &cp
	}
	data, err := serialize(s)
	if err != nil {
		return err
	}
	return unavailable(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storyKey(s.ID), data)
	}))
}

func (b *BadgerRepository) GetStory(_ context.Context, storyID string) (*Story, error) {
	var s Story
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storyKey(storyID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return deserialize(val, &s)
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return &s, nil
}

// DeleteStory removes the story record, its chapters and its state.
func (b *BadgerRepository) DeleteStory(_ context.Context, storyID string) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		if err := requireStory(txn, storyID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = storyPrefix(storyID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	keys = append(keys, storyKey(storyID))

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return unavailable(err)
		}
	}
	return unavailable(wb.Flush())
}

func (b *BadgerRepository) SaveChapter(_ context.Context, c *Chapter) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c = cloneChapter(c)
		c.CreatedAt = time.Now().UTC()
	}
	data, err := serialize(c)
	if err != nil {
		return err
	}
	return unavailable(b.db.Update(func(txn *badger.Txn) error {
		if err := requireStory(txn, c.StoryID); err != nil {
			return err
		}
		return txn.Set(chapterKey(c.StoryID, c.Number), data)
	}))
}

func (b *BadgerRepository) GetChapters(_ context.Context, storyID string, from, to int) ([]*Chapter, error) {
	if from < 1 {
		from = 1
	}
	var out []*Chapter
	err := b.db.View(func(txn *badger.Txn) error {
		if err := requireStory(txn, storyID); err != nil {
			return err
		}
		if to > 0 && to < from {
			return nil
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chapterPrefix(storyID)
		it := txn.NewIterator(opts)
		defer it.Close()

		// zero-padded keys iterate in chapter order
		for it.Seek(chapterKey(storyID, from)); it.Valid(); it.Next() {
			item := it.Item()
			n, err := chapterNumber(item.Key())
			if err != nil {
				continue
			}
			if to > 0 && n > to {
				break
			}
			var c Chapter
			if err := item.Value(func(val []byte) error { return deserialize(val, &c) }); err != nil {
				return err
			}
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (b *BadgerRepository) LatestChapter(_ context.Context, storyID string) (int, error) {
	latest := 0
	err := b.db.View(func(txn *badger.Txn) error {
		if err := requireStory(txn, storyID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chapterPrefix(storyID)
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration needs a seek key past every chapter
		seek := append(chapterPrefix(storyID), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			n, err := chapterNumber(it.Item().Key())
			if err != nil {
				continue
			}
			latest = n
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return latest, nil
}

func chapterNumber(key []byte) (int, error) {
	k := string(key)
	i := strings.LastIndex(k, ":")
	if i < 0 {
		return 0, fmt.Errorf("malformed chapter key %q", k)
	}
	return strconv.Atoi(k[i+1:])
}

func (b *BadgerRepository) GetState(_ context.Context, storyID string) (*State, error) {
	var st *State
	err := b.db.View(func(txn *badger.Txn) error {
		if err := requireStory(txn, storyID); err != nil {
			return err
		}
		var err error
		st, err = readState(txn, storyID)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return st, nil
}

func readState(txn *badger.Txn, storyID string) (*State, error) {
	item, err := txn.Get(stateKey(storyID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return NewState(storyID), nil
	}
	if err != nil {
		return nil, err
	}
	st := NewState(storyID)
	if err := item.Value(func(val []byte) error { return deserialize(val, st) }); err != nil {
		return nil, err
	}
	return st, nil
}

// PutState reads, applies and writes the state in one transaction, retrying
// when a concurrent writer wins the conflict check.
func (b *BadgerRepository) PutState(ctx context.Context, storyID string, delta *Delta) (*State, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	var result *State
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			if err := requireStory(txn, storyID); err != nil {
				return err
			}
			st, err := readState(txn, storyID)
			if err != nil {
				return err
			}
			if err := st.Apply(delta); err != nil {
				return err
			}
			data, err := serialize(st)
			if err != nil {
				return err
			}
			if err := txn.Set(stateKey(storyID), data); err != nil {
				return err
			}
			result = st
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

// Close closes the database when the repository opened it.
func (b *BadgerRepository) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}
