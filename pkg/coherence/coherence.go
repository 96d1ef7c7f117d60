// Package coherence scores generated chapters against what a story has
// already established. Four axes are checked: character, plot, world and
// temporal. Scoring is pure; callers record metrics and decide what to do
// with the report.
package coherence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/assembler"
)

// IssueType names the axis an issue was raised on.
type IssueType string

const (
	IssueCharacter IssueType = "character"
	IssuePlot      IssueType = "plot"
	IssueWorld     IssueType = "world"
	IssueTemporal  IssueType = "temporal"
)

// Severity grades how far an axis fell below its threshold.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps the deficit below the axis threshold to a severity.
func SeverityFor(deficit float64) Severity {
	switch {
	case deficit < 0.15:
		return SeverityLow
	case deficit < 0.35:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Issue is one axis that scored below threshold.
type Issue struct {
	Type             IssueType `json:"type"`
	Severity         Severity  `json:"severity"`
	AffectedChapters []int     `json:"affected_chapters,omitempty"`
	Description      string    `json:"description"`
	Entities         []string  `json:"entities,omitempty"`
}

// Report is the result of scoring one piece of content.
type Report struct {
	StoryID   string  `json:"story_id"`
	Overall   float64 `json:"overall_score"`
	Character float64 `json:"character_consistency"`
	Plot      float64 `json:"plot_continuity"`
	World     float64 `json:"world_consistency"`
	Temporal  float64 `json:"temporal_logic"`
	Issues    []Issue `json:"issues,omitempty"`

	// Accepted is Overall measured against the accept threshold in force
	// when the report was produced.
	Accepted bool `json:"accepted"`
}

// Axes returns the per-axis scores keyed by axis name.
func (r *Report) Axes() map[string]float64 {
	return map[string]float64{
		string(IssueCharacter): r.Character,
		string(IssuePlot):      r.Plot,
		string(IssueWorld):     r.World,
		string(IssueTemporal):  r.Temporal,
	}
}

// Weights of the overall score.
type Weights struct {
	Character float64
	Plot      float64
	World     float64
	Temporal  float64
}

// DefaultWeights returns 0.3/0.4/0.2/0.1.
func DefaultWeights() Weights {
	return Weights{Character: 0.3, Plot: 0.4, World: 0.2, Temporal: 0.1}
}

func (w Weights) sum() float64 {
	return w.Character + w.Plot + w.World + w.Temporal
}

// Config holds the scorer tunables.
type Config struct {
	Weights         Weights
	AxisThreshold   float64
	AcceptThreshold float64
}

// DefaultConfig returns the default weights with a 0.7 axis threshold and a
// 0.8 accept threshold.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), AxisThreshold: 0.7, AcceptThreshold: 0.8}
}

// ConfigFrom converts the configuration section.
func ConfigFrom(c config.CoherenceConfig) Config {
	return Config{
		Weights: Weights{
			Character: c.CharacterWeight,
			Plot:      c.PlotWeight,
			World:     c.WorldWeight,
			Temporal:  c.TemporalWeight,
		},
		AxisThreshold:   c.AxisThreshold,
		AcceptThreshold: c.AcceptThreshold,
	}
}

// Validate checks weights and thresholds.
func (c Config) Validate() error {
	w := c.Weights
	for _, v := range []float64{w.Character, w.Plot, w.World, w.Temporal, c.AxisThreshold, c.AcceptThreshold} {
		if v < 0 || v > 1 {
			return fmt.Errorf("coherence: value %.3f outside [0,1]", v)
		}
	}
	if w.sum() == 0 {
		return errors.New("coherence: all weights are zero")
	}
	return nil
}

// Scorer evaluates content against a context bundle. The configuration can
// be swapped at runtime.
type Scorer struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a Scorer. An invalid config falls back to DefaultConfig.
func New(cfg Config) *Scorer {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Config returns the configuration in force.
func (s *Scorer) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the configuration.
func (s *Scorer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Score evaluates content written as the next chapter of bundle. It reads
// nothing but its arguments.
func (s *Scorer) Score(storyID, content string, bundle *assembler.Bundle) *Report {
	cfg := s.Config()
	doc := newDocument(content)

	axes := []struct {
		typ    IssueType
		result axisResult
	}{
		{IssueCharacter, checkCharacters(doc, bundle)},
		{IssuePlot, checkPlot(doc, bundle)},
		{IssueWorld, checkWorld(doc, bundle)},
		{IssueTemporal, checkTemporal(doc, bundle)},
	}

	r := &Report{
		StoryID:   storyID,
		Character: axes[0].result.score,
		Plot:      axes[1].result.score,
		World:     axes[2].result.score,
		Temporal:  axes[3].result.score,
	}
	w := cfg.Weights
	r.Overall = (w.Character*r.Character + w.Plot*r.Plot + w.World*r.World + w.Temporal*r.Temporal) / w.sum()
	r.Accepted = r.Overall >= cfg.AcceptThreshold

	for _, a := range axes {
		if a.result.score >= cfg.AxisThreshold {
			continue
		}
		r.Issues = append(r.Issues, a.result.issue(a.typ, SeverityFor(cfg.AxisThreshold-a.result.score)))
	}
	return r
}

// finding is one concrete problem found on an axis.
type finding struct {
	description string
	entities    []string
	chapters    []int
	penalty     float64
}

type axisResult struct {
	score    float64
	findings []finding
}

// penalize subtracts the findings' penalties from a perfect score.
func penalize(findings []finding) axisResult {
	score := 1.0
	for _, f := range findings {
		score -= f.penalty
	}
	if score < 0 {
		score = 0
	}
	return axisResult{score: score, findings: findings}
}

func (a axisResult) issue(t IssueType, sev Severity) Issue {
	is := Issue{Type: t, Severity: sev}
	entities := make(map[string]struct{})
	chapters := make(map[int]struct{})
	var desc strings.Builder
	for i, f := range a.findings {
		if i > 0 {
			desc.WriteString("; ")
		}
		desc.WriteString(f.description)
		for _, e := range f.entities {
			entities[e] = struct{}{}
		}
		for _, c := range f.chapters {
			if c > 0 {
				chapters[c] = struct{}{}
			}
		}
	}
	is.Description = desc.String()
	if is.Description == "" {
		is.Description = fmt.Sprintf("%s consistency below threshold", t)
	}
	for e := range entities {
		is.Entities = append(is.Entities, e)
	}
	sort.Strings(is.Entities)
	for c := range chapters {
		is.AffectedChapters = append(is.AffectedChapters, c)
	}
	sort.Ints(is.AffectedChapters)
	return is
}
