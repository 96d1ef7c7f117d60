package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/provider"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	delay time.Duration
}

func (f fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.vec, f.err
}

type failingIndex struct{ memory.Index }

func (failingIndex) Query(context.Context, []float32, memory.Filter, int) ([]memory.Match, error) {
	return nil, memory.ErrStorageUnavailable
}

type recorder struct {
	statuses []string
	degraded []string
}

func (r *recorder) RecordRetrieval(_ context.Context, status string, _ time.Duration) {
	r.statuses = append(r.statuses, status)
}

func (r *recorder) RecordRetrievalDegraded(reason string) {
	r.degraded = append(r.degraded, reason)
}

func newHub(t *testing.T) *memory.Hub {
	t.Helper()
	hub := memory.NewHub(config.MemoryConfig{VectorDimension: 3, L1CacheSize: 10},
		memory.NewMapStore(), nil)
	ctx := context.Background()
	put := func(story string, chapter int, typ memory.MemoryType, imp float64, vec []float32) {
		require.NoError(t, hub.Upsert(ctx, &memory.MemoryEntry{
			ID:            memory.EntryID(story, chapter, 0, typ),
			StoryID:       story,
			ChapterNumber: chapter,
			Content:       "fact",
			Embedding:     vec,
			MemoryType:    typ,
			Importance:    imp,
			CreatedAt:     memory.ChapterTimestamp(chapter, 0),
		}))
	}
	put("s1", 1, memory.TypeWorldFact, 0.9, []float32{1, 0, 0})
	put("s1", 2, memory.TypeWarning, 0.2, []float32{0.9, 0.1, 0})
	put("s1", 3, memory.TypeEmotion, 0.5, []float32{0, 1, 0})
	put("s2", 1, memory.TypeWorldFact, 0.9, []float32{1, 0, 0})
	return hub
}

func TestRetrieve(t *testing.T) {
	rec := &recorder{}
	r := New(fakeEmbedder{vec: []float32{1, 0, 0}}, newHub(t), WithRecorder(rec), WithLogger(logger.Nop()))

	got, err := r.Retrieve(context.Background(), Request{StoryID: "s1", Query: "the lotus", K: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Entry.ChapterNumber)
	assert.Equal(t, 2, got[1].Entry.ChapterNumber)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, []string{"ok"}, rec.statuses)
}

func TestRetrieve_ClampsSimilarity(t *testing.T) {
	r := New(fakeEmbedder{vec: []float32{-1, 0, 0}}, newHub(t), WithLogger(logger.Nop()))

	got, err := r.Retrieve(context.Background(), Request{StoryID: "s1", Query: "the opposite", K: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.GreaterOrEqual(t, c.Similarity, 0.0, c.Entry.ID)
		assert.LessOrEqual(t, c.Similarity, 1.0, c.Entry.ID)
	}
	// Anti-parallel to chapter 1 and orthogonal to chapter 3.
	byChapter := map[int]float64{}
	for _, c := range got {
		byChapter[c.Entry.ChapterNumber] = c.Similarity
	}
	assert.Zero(t, byChapter[1])
	assert.Zero(t, byChapter[2])
	assert.InDelta(t, 0, byChapter[3], 1e-9)
}

func TestRetrieve_Filters(t *testing.T) {
	r := New(fakeEmbedder{vec: []float32{1, 0, 0}}, newHub(t), WithLogger(logger.Nop()))
	ctx := context.Background()

	got, err := r.Retrieve(ctx, Request{StoryID: "s1", Query: "q", Types: []memory.MemoryType{memory.TypeEmotion}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, memory.TypeEmotion, got[0].Entry.MemoryType)

	got, err = r.Retrieve(ctx, Request{StoryID: "s1", Query: "q", MinImportance: 0.4})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Retrieve(ctx, Request{StoryID: "s1", Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieve_Degrades(t *testing.T) {
	ctx := context.Background()

	t.Run("embedder failure", func(t *testing.T) {
		rec := &recorder{}
		r := New(fakeEmbedder{err: errors.New("boom")}, newHub(t), WithRecorder(rec), WithLogger(logger.Nop()))
		_, err := r.Retrieve(ctx, Request{StoryID: "s1", Query: "q"})
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
		assert.Equal(t, []string{"embed"}, rec.degraded)
	})

	t.Run("index failure", func(t *testing.T) {
		r := New(fakeEmbedder{vec: []float32{1, 0, 0}}, failingIndex{}, WithLogger(logger.Nop()))
		_, err := r.Retrieve(ctx, Request{StoryID: "s1", Query: "q"})
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		r := New(fakeEmbedder{vec: []float32{1, 0, 0}, delay: time.Second}, newHub(t),
			WithTimeout(10*time.Millisecond), WithLogger(logger.Nop()))
		_, err := r.Retrieve(ctx, Request{StoryID: "s1", Query: "q"})
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	})
}

func TestRetrieve_WithHashEmbedder(t *testing.T) {
	ctx := context.Background()
	emb := provider.HashEmbedder{Dimension: 256}
	hub := memory.NewHub(config.MemoryConfig{VectorDimension: 256, L1CacheSize: 10},
		memory.NewMapStore(), nil)

	for i, text := range []string{"the sky lotus blooms in winter", "a merchant sells rice", "the river floods the valley"} {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, hub.Upsert(ctx, &memory.MemoryEntry{
			ID:            memory.EntryID("s1", i+1, 0, memory.TypeWorldFact),
			StoryID:       "s1",
			ChapterNumber: i + 1,
			Content:       text,
			Embedding:     vec,
			MemoryType:    memory.TypeWorldFact,
			Importance:    0.5,
		}))
	}

	r := New(emb, hub, WithLogger(logger.Nop()))
	got, err := r.Retrieve(ctx, Request{StoryID: "s1", Query: "where does the sky lotus bloom", K: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Entry.Content, "lotus")
}
