package memory

import (
	"errors"
	"math"
	"testing"
)

func ids(hits []hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestVectorIndex_Search(t *testing.T) {
	idx := NewVectorIndex(2)
	vectors := map[string][]float32{
		"east":      {1, 0},
		"east-far":  {5, 0},
		"northeast": {1, 1},
		"north":     {0, 1},
		"west":      {-1, 0},
		"zero":      {0, 0},
	}
	for id, vec := range vectors {
		if err := idx.Put("s1", id, vec); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.Put("s2", "other", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		query  []float32
		k      int
		accept func(string) bool
		want   []string
	}{
		{"ties ordered by id", []float32{3, 0}, 2, nil, []string{"east", "east-far"}},
		{"k caps results", []float32{1, 0}, 3, nil, []string{"east", "east-far", "northeast"}},
		{"k beyond size", []float32{0, 1}, 10, nil, []string{"north", "northeast", "east", "east-far", "west", "zero"}},
		{"filter before truncation", []float32{1, 0}, 2, func(id string) bool { return id != "east" }, []string{"east-far", "northeast"}},
		{"zero k", []float32{1, 0}, 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search("s1", tt.query, tt.k, tt.accept)
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(hits); !equalIDs(got, tt.want) {
				t.Errorf("Search() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVectorIndex_Scores(t *testing.T) {
	idx := NewVectorIndex(3)
	idx.Put("s1", "same", []float32{2, 0, 0})
	idx.Put("s1", "diag", []float32{1, 1, 0})
	idx.Put("s1", "opposite", []float32{-1, 0, 0})
	idx.Put("s1", "zero", []float32{0, 0, 0})

	hits, err := idx.Search("s1", []float32{1, 0, 0}, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"same": 1, "diag": 1 / math.Sqrt2, "zero": 0, "opposite": -1}
	for _, h := range hits {
		if math.Abs(h.Score-want[h.ID]) > 1e-9 {
			t.Errorf("score(%s) = %f, want %f", h.ID, h.Score, want[h.ID])
		}
	}
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	idx := NewVectorIndex(3)
	if err := idx.Put("s1", "a", []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Put() error = %v", err)
	}
	if _, err := idx.Search("s1", []float32{1}, 1, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search() error = %v", err)
	}
}

func TestVectorIndex_RemoveAndIsolation(t *testing.T) {
	idx := NewVectorIndex(2)
	idx.Put("s1", "a", []float32{1, 0})
	idx.Put("s1", "b", []float32{0, 1})
	idx.Put("s2", "c", []float32{1, 0})

	idx.Remove("s1", "a")
	hits, _ := idx.Search("s1", []float32{1, 0}, 10, nil)
	if got := ids(hits); !equalIDs(got, []string{"b"}) {
		t.Errorf("after Remove: %v", got)
	}

	idx.RemoveStory("s1")
	if hits, _ := idx.Search("s1", []float32{1, 0}, 10, nil); len(hits) != 0 {
		t.Errorf("after RemoveStory: %v", ids(hits))
	}
	if idx.Len() != 1 {
		t.Errorf("Len() = %d, want 1", idx.Len())
	}
}

func TestVectorIndex_PutCopiesVector(t *testing.T) {
	idx := NewVectorIndex(2)
	vec := []float32{1, 0}
	idx.Put("s1", "a", vec)
	vec[0], vec[1] = 0, 1

	hits, _ := idx.Search("s1", []float32{1, 0}, 1, nil)
	if len(hits) != 1 || math.Abs(hits[0].Score-1) > 1e-9 {
		t.Errorf("index aliased the caller's slice: %+v", hits)
	}
}
