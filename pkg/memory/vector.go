package memory

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"
)

// VectorIndex answers nearest-neighbour queries with a linear scan over the
// vectors of one story. Vectors are normalised on insert, so a query costs
// one dot product per entry.
type VectorIndex struct {
	dimension int

	mu      sync.RWMutex
	stories map[string]map[string][]float64
}

// hit is one search result.
type hit struct {
	ID    string
	Score float64
}

// NewVectorIndex creates an index for vectors of the given dimension.
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		stories:   make(map[string]map[string][]float64),
	}
}

// Dimension returns the configured vector dimension.
func (v *VectorIndex) Dimension() int {
	return v.dimension
}

func (v *VectorIndex) checkDimension(vector []float32) error {
	if len(vector) != v.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(vector))
	}
	return nil
}

// Put adds or replaces the vector of an entry.
func (v *VectorIndex) Put(storyID, entryID string, vector []float32) error {
	if err := v.checkDimension(vector); err != nil {
		return err
	}
	unit := normalize(vector)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stories[storyID] == nil {
		v.stories[storyID] = make(map[string][]float64)
	}
	v.stories[storyID][entryID] = unit
	return nil
}

// Remove deletes the vector of an entry.
func (v *VectorIndex) Remove(storyID, entryID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.stories[storyID], entryID)
	if len(v.stories[storyID]) == 0 {
		delete(v.stories, storyID)
	}
}

// RemoveStory drops every vector of a story.
func (v *VectorIndex) RemoveStory(storyID string) {
	v.mu.Lock()
	delete(v.stories, storyID)
	v.mu.Unlock()
}

// Search returns up to topK hits of a story by descending cosine
// similarity, ties broken by entry ID. accept, when set, is applied in rank
// order until topK hits pass it.
func (v *VectorIndex) Search(storyID string, query []float32, topK int, accept func(id string) bool) ([]hit, error) {
	if err := v.checkDimension(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	q := normalize(query)

	v.mu.RLock()
	ranked := make([]hit, 0, len(v.stories[storyID]))
	for id, vec := range v.stories[storyID] {
		ranked = append(ranked, hit{ID: id, Score: dot(q, vec)})
	}
	v.mu.RUnlock()

	slices.SortFunc(ranked, func(a, b hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if accept == nil {
		return ranked[:min(topK, len(ranked))], nil
	}
	out := make([]hit, 0, topK)
	for _, h := range ranked {
		if len(out) == topK {
			break
		}
		if accept(h.ID) {
			out = append(out, h)
		}
	}
	return out, nil
}

// Len returns the number of indexed vectors across stories.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, vecs := range v.stories {
		n += len(vecs)
	}
	return n
}

// normalize returns vector scaled to unit length. The zero vector stays
// zero and scores 0 against everything.
func normalize(vector []float32) []float64 {
	out := make([]float64, len(vector))
	var sum float64
	for i, x := range vector {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
