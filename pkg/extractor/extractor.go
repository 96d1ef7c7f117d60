// Package extractor turns accepted chapter content into semantic memory
// entries and structured state deltas, and writes both back.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"

	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/story"
)

// ErrExtractionFailed wraps every failure of ExtractAndApply.
var ErrExtractionFailed = errors.New("extractor: extraction failed")

// Strategy names.
const (
	StrategyHeuristic = "heuristic"
	StrategyModel     = "model"
)

// Statement is one candidate memory before it is embedded.
type Statement struct {
	Content    string            `json:"content"`
	Type       memory.MemoryType `json:"memory_type"`
	Importance float64           `json:"importance"`
	Characters []string          `json:"characters,omitempty"`
	Keywords   []string          `json:"keywords,omitempty"`
}

// Extraction is what one chapter yields.
type Extraction struct {
	Statements []Statement
	Delta      *story.Delta
}

// Extractor derives statements and a state delta from chapter content. The
// state is read only.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, chapter int, content string, st *story.State) (*Extraction, error)
}

// Digest identifies chapter content for idempotent re-extraction.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
