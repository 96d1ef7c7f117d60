// Package ranking fuses similarity, importance and recency into one
// relevance score and orders retrieved memories by it.
package ranking

import (
	"fmt"
	"sort"
	"sync"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/retrieval"
)

// Weights of the three relevance signals.
type Weights struct {
	Similarity float64
	Importance float64
	Recency    float64
}

// DefaultWeights returns 0.6 / 0.3 / 0.1.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Importance: 0.3, Recency: 0.1}
}

// WeightsFromConfig converts the ranking section of the config.
func WeightsFromConfig(cfg config.RankingConfig) Weights {
	return Weights{
		Similarity: cfg.SimilarityWeight,
		Importance: cfg.ImportanceWeight,
		Recency:    cfg.RecencyWeight,
	}
}

// Validate rejects negative weights and the all-zero set.
func (w Weights) Validate() error {
	if w.Similarity < 0 || w.Importance < 0 || w.Recency < 0 {
		return fmt.Errorf("ranking: negative weight in %+v", w)
	}
	if w.Similarity+w.Importance+w.Recency == 0 {
		return fmt.Errorf("ranking: all weights are zero")
	}
	return nil
}

// Band is a coarse label of how relevant a memory is.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
	BandWeak   Band = "weak"
)

// BandFor maps a score onto its relevance band.
func BandFor(score float64) Band {
	switch {
	case score > 0.8:
		return BandHigh
	case score > 0.6:
		return BandMedium
	case score > 0.4:
		return BandLow
	default:
		return BandWeak
	}
}

// Ranked is a memory with its fused score.
type Ranked struct {
	Entry      *memory.MemoryEntry `json:"entry"`
	Similarity float64             `json:"similarity"`
	Score      float64             `json:"score"`
}

// Band returns the relevance band of r.
func (r Ranked) Band() Band {
	return BandFor(r.Score)
}

// Recency is min(chapter/current, 1), with 1 when current is unknown.
func Recency(chapter, current int) float64 {
	if current <= 0 {
		return 1
	}
	v := float64(chapter) / float64(current)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Score computes the fused relevance of one memory.
func Score(w Weights, similarity, importance float64, chapter, current int) float64 {
	return w.Similarity*similarity + w.Importance*importance + w.Recency*Recency(chapter, current)
}

// Ranker orders candidates. Weights can be swapped at runtime.
type Ranker struct {
	mu      sync.RWMutex
	weights Weights
	limit   int
}

// New creates a Ranker. limit <= 0 keeps every candidate.
func New(w Weights, limit int) *Ranker {
	return &Ranker{weights: w, limit: limit}
}

// FromConfig creates a Ranker from the ranking section of the config.
func FromConfig(cfg config.RankingConfig) *Ranker {
	return New(WeightsFromConfig(cfg), cfg.Limit)
}

// Weights returns the active weights.
func (r *Ranker) Weights() Weights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights
}

// SetWeights replaces the active weights.
func (r *Ranker) SetWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.weights = w
	r.mu.Unlock()
	return nil
}

// Rank scores candidates against currentChapter (the latest chapter of the
// story) and returns them best first. Ties break on higher importance, then
// lower chapter number, then id, which makes the order total.
func (r *Ranker) Rank(candidates []retrieval.Candidate, currentChapter int) []Ranked {
	w := r.Weights()
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.Entry == nil {
			continue
		}
		out = append(out, Ranked{
			Entry:      c.Entry,
			Similarity: c.Similarity,
			Score:      Score(w, c.Similarity, c.Entry.Importance, c.Entry.ChapterNumber, currentChapter),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if r.limit > 0 && len(out) > r.limit {
		out = out[:r.limit]
	}
	return out
}

func less(a, b Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Entry.Importance != b.Entry.Importance {
		return a.Entry.Importance > b.Entry.Importance
	}
	if a.Entry.ChapterNumber != b.Entry.ChapterNumber {
		return a.Entry.ChapterNumber < b.Entry.ChapterNumber
	}
	return a.Entry.ID < b.Entry.ID
}
