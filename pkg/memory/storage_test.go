package memory

import (
	"context"
	"errors"
	"testing"
)

func newTestCache(t *testing.T, capacity int) *L1Cache {
	t.Helper()
	c, err := NewL1Cache(capacity)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func testEntry(storyID, id string) *MemoryEntry {
	return &MemoryEntry{
		ID:            id,
		StoryID:       storyID,
		ChapterNumber: 1,
		Content:       "content of " + id,
		MemoryType:    TypeWorldFact,
		Importance:    0.5,
		Characters:    []string{"Lin"},
	}
}

// stores runs fn against every EntryStore implementation.
func stores(t *testing.T, fn func(t *testing.T, s EntryStore)) {
	t.Run("badger", func(t *testing.T) { fn(t, NewL2Badger(openTestDB(t))) })
	t.Run("map", func(t *testing.T) { fn(t, NewMapStore()) })
	t.Run("tiered", func(t *testing.T) {
		fn(t, NewTieredStorage(newTestCache(t, 10), NewL2Badger(openTestDB(t))))
	})
}

func TestEntryStore_RoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s EntryStore) {
		ctx := context.Background()
		if err := s.Store(ctx, testEntry("s1", "e1")); err != nil {
			t.Fatal(err)
		}

		got, err := s.Get(ctx, "s1", "e1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Content != "content of e1" || got.Characters[0] != "Lin" {
			t.Fatalf("Get() = %+v", got)
		}

		got.Characters[0] = "Mei"
		again, err := s.Get(ctx, "s1", "e1")
		if err != nil {
			t.Fatal(err)
		}
		if again.Characters[0] != "Lin" {
			t.Errorf("stored entry shares memory with a returned copy: %v", again.Characters)
		}

		if _, err := s.Get(ctx, "s2", "e1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() across stories error = %v, want ErrNotFound", err)
		}
	})
}

func TestEntryStore_Delete(t *testing.T) {
	stores(t, func(t *testing.T, s EntryStore) {
		ctx := context.Background()
		if err := s.Store(ctx, testEntry("s1", "e1")); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "s1", "e1"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "s1", "e1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() after Delete error = %v", err)
		}
		if err := s.Delete(ctx, "s1", "e1"); err != nil {
			t.Errorf("second Delete() error = %v", err)
		}
	})
}

func TestEntryStore_DeleteByStory(t *testing.T) {
	stores(t, func(t *testing.T, s EntryStore) {
		ctx := context.Background()
		for _, e := range []*MemoryEntry{testEntry("s1", "e1"), testEntry("s1", "e2"), testEntry("s10", "e3")} {
			if err := s.Store(ctx, e); err != nil {
				t.Fatal(err)
			}
		}

		n, err := s.DeleteByStory(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("DeleteByStory() = %d, want 2", n)
		}
		if _, err := s.Get(ctx, "s1", "e1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted story still readable: %v", err)
		}

		rest, err := s.AllByStory(ctx, "s10")
		if err != nil {
			t.Fatal(err)
		}
		if len(rest) != 1 || rest[0].ID != "e3" {
			t.Errorf("story sharing a prefix was touched: %d entries left", len(rest))
		}

		if n, err := s.DeleteByStory(ctx, "missing"); err != nil || n != 0 {
			t.Errorf("DeleteByStory(missing) = %d, %v", n, err)
		}
	})
}

func TestMapStore_AllByStoryIsSorted(t *testing.T) {
	ctx := context.Background()
	ms := NewMapStore()
	for _, id := range []string{"c", "a", "b"} {
		ms.Store(ctx, testEntry("s1", id))
	}

	all, err := ms.AllByStory(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("AllByStory() not ordered by id")
	}
}

func TestL1Cache_PutGetDelete(t *testing.T) {
	c := newTestCache(t, 10)

	c.Put(testEntry("s1", "a"))
	c.Wait()

	got, ok := c.Get("s1", "a")
	if !ok {
		t.Fatal("expected cache hit after Wait")
	}
	got.Content = "changed"
	if again, _ := c.Get("s1", "a"); again.Content != "content of a" {
		t.Error("cached entry was mutated through a returned copy")
	}

	c.Delete("s1", "a")
	if _, ok := c.Get("s1", "a"); ok {
		t.Error("deleted entry still cached")
	}

	rate, lookups := c.HitRate()
	if lookups != 3 || rate <= 0 || rate >= 1 {
		t.Errorf("HitRate() = %f over %d lookups", rate, lookups)
	}
}

func TestL1Cache_DeleteStory(t *testing.T) {
	c := newTestCache(t, 10)
	c.Put(testEntry("s1", "a"))
	c.Put(testEntry("s1", "b"))
	c.Put(testEntry("s10", "c"))
	c.Wait()

	c.DeleteStory("s1")

	for _, id := range []string{"a", "b"} {
		if _, ok := c.Get("s1", id); ok {
			t.Errorf("entry %s of deleted story still cached", id)
		}
	}
	if _, ok := c.Get("s10", "c"); !ok {
		t.Error("entry of another story was dropped")
	}
}

func TestTieredStorage_FillsCacheOnMiss(t *testing.T) {
	ctx := context.Background()
	l2 := NewMapStore()
	l2.Store(ctx, testEntry("s1", "e1"))
	ts := NewTieredStorage(newTestCache(t, 10), l2)

	if _, ok := ts.Cache().Get("s1", "e1"); ok {
		t.Fatal("cache hit before any read")
	}
	if _, err := ts.Get(ctx, "s1", "e1"); err != nil {
		t.Fatal(err)
	}
	ts.Cache().Wait()
	if _, ok := ts.Cache().Get("s1", "e1"); !ok {
		t.Error("read did not fill the cache")
	}
}
