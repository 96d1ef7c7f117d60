package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/retrieval"
)

func candidate(id string, chapter int, importance, similarity float64) retrieval.Candidate {
	return retrieval.Candidate{
		Entry: &memory.MemoryEntry{
			ID:            id,
			StoryID:       "s1",
			ChapterNumber: chapter,
			Importance:    importance,
			MemoryType:    memory.TypeAbilityDiscovery,
		},
		Similarity: similarity,
	}
}

func TestRank_ChapterScenario(t *testing.T) {
	r := New(DefaultWeights(), 0)
	ranked := r.Rank([]retrieval.Candidate{
		candidate("ch4", 4, 0.3, 0.85),
		candidate("ch3", 3, 0.9, 0.8),
	}, 5)

	require.Len(t, ranked, 2)
	assert.Equal(t, "ch3", ranked[0].Entry.ID)
	assert.InDelta(t, 0.81, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.68, ranked[1].Score, 1e-9)
	assert.Equal(t, BandHigh, ranked[0].Band())
	assert.Equal(t, BandMedium, ranked[1].Band())
}

func TestRank_TieBreaks(t *testing.T) {
	w := Weights{Similarity: 1}
	r := New(w, 0)
	ranked := r.Rank([]retrieval.Candidate{
		candidate("c", 2, 0.5, 0.7),
		candidate("b", 1, 0.5, 0.7),
		candidate("a", 1, 0.5, 0.7),
		candidate("d", 9, 0.9, 0.7),
	}, 10)

	ids := make([]string, len(ranked))
	for i, x := range ranked {
		ids[i] = x.Entry.ID
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}

func TestRank_Monotonicity(t *testing.T) {
	r := New(DefaultWeights(), 0)
	base := candidate("x", 3, 0.5, 0.5)
	baseScore := r.Rank([]retrieval.Candidate{base}, 6)[0].Score

	higherSim := candidate("x", 3, 0.5, 0.6)
	higherImp := candidate("x", 3, 0.6, 0.5)
	newer := candidate("x", 4, 0.5, 0.5)

	for name, c := range map[string]retrieval.Candidate{"similarity": higherSim, "importance": higherImp, "recency": newer} {
		t.Run(name, func(t *testing.T) {
			assert.Greater(t, r.Rank([]retrieval.Candidate{c}, 6)[0].Score, baseScore)
		})
	}
}

func TestRank_LimitAndNil(t *testing.T) {
	r := FromConfig(config.RankingConfig{SimilarityWeight: 0.6, ImportanceWeight: 0.3, RecencyWeight: 0.1, Limit: 2})
	ranked := r.Rank([]retrieval.Candidate{
		candidate("a", 1, 0.1, 0.1),
		{Entry: nil, Similarity: 1},
		candidate("b", 1, 0.9, 0.9),
		candidate("c", 1, 0.5, 0.5),
	}, 1)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].Entry.ID)
	assert.Equal(t, "c", ranked[1].Entry.ID)
}

func TestRecency(t *testing.T) {
	assert.InDelta(t, 0.6, Recency(3, 5), 1e-9)
	assert.Equal(t, 1.0, Recency(7, 5))
	assert.Equal(t, 1.0, Recency(3, 0))
}

func TestSetWeights(t *testing.T) {
	r := New(DefaultWeights(), 0)
	require.Error(t, r.SetWeights(Weights{}))
	require.Error(t, r.SetWeights(Weights{Similarity: -1, Importance: 2}))
	require.NoError(t, r.SetWeights(Weights{Importance: 1}))

	ranked := r.Rank([]retrieval.Candidate{
		candidate("similar", 1, 0.1, 0.99),
		candidate("important", 1, 0.9, 0.1),
	}, 1)
	assert.Equal(t, "important", ranked[0].Entry.ID)
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Band
	}{
		{0.95, BandHigh},
		{0.8, BandMedium},
		{0.61, BandMedium},
		{0.6, BandLow},
		{0.41, BandLow},
		{0.4, BandWeak},
		{0, BandWeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.score), "score %.2f", tt.score)
	}
}
