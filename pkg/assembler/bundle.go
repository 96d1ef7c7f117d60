// Package assembler builds the bounded context bundle handed to the
// generative service: recent chapters, the implicated slice of long-term
// state, and ranked semantic memories.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/story"
)

// Unit measures the budget.
type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

// ParseUnit accepts "chars" or "tokens"; anything else is chars.
func ParseUnit(s string) Unit {
	if Unit(s) == UnitTokens {
		return UnitTokens
	}
	return UnitChars
}

// Cost returns the size of text in u. Token equivalents are runes/4
// rounded up.
func (u Unit) Cost(text string) int {
	n := utf8.RuneCountInString(text)
	if u == UnitTokens {
		return (n + 3) / 4
	}
	return n
}

// CoreKind tells which part of the long-term state a core item comes from.
type CoreKind string

const (
	KindCharacter CoreKind = "character"
	KindThread    CoreKind = "thread"
	KindWorldFact CoreKind = "world_fact"
)

// CoreItem is one entry of the core context with its rendered text.
type CoreItem struct {
	Kind      CoreKind                `json:"kind"`
	Text      string                  `json:"text"`
	Character *story.CharacterProfile `json:"character,omitempty"`
	Thread    *story.PlotThread       `json:"thread,omitempty"`
	WorldFact *story.WorldFact        `json:"world_fact,omitempty"`
}

// Bundle is the assembled context of one generation call. It is never
// persisted.
type Bundle struct {
	StoryID    string       `json:"story_id"`
	Story      *story.Story `json:"story,omitempty"`
	UserChoice string       `json:"user_choice"`

	// CurrentChapter is the latest stored chapter; the new chapter will be
	// CurrentChapter+1.
	CurrentChapter int `json:"current_chapter"`

	RecentChapters []*story.Chapter `json:"recent_chapters"`
	Core           []CoreItem       `json:"core"`
	RankedMemories []ranking.Ranked `json:"ranked_memories"`

	BudgetUsed  int  `json:"budget_used"`
	BudgetTotal int  `json:"budget_total"`
	Unit        Unit `json:"unit"`

	// Degraded is set when semantic retrieval was unavailable.
	Degraded bool `json:"degraded,omitempty"`

	// State is the full long-term snapshot the core was selected from. It is
	// outside the budget and only read by the coherence scorer.
	State *story.State `json:"-"`
}

// NextChapter returns the number the generated chapter will get.
func (b *Bundle) NextChapter() int {
	return b.CurrentChapter + 1
}

// Tiers counts the items per tier.
func (b *Bundle) Tiers() map[string]int {
	return map[string]int{
		"recent":   len(b.RecentChapters),
		"core":     len(b.Core),
		"memories": len(b.RankedMemories),
	}
}

// Items returns the number of included items across tiers.
func (b *Bundle) Items() int {
	return len(b.RecentChapters) + len(b.Core) + len(b.RankedMemories)
}

// RenderCharacter renders a profile the way it is budgeted and prompted.
func RenderCharacter(p *story.CharacterProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s", p.Name, p.Role)
	if p.Status != "" {
		fmt.Fprintf(&sb, ", %s", p.Status)
	}
	sb.WriteString(")")
	if len(p.Traits) > 0 {
		fmt.Fprintf(&sb, ": %s", strings.Join(p.Traits, ", "))
	}
	if len(p.Relationships) > 0 {
		names := make([]string, 0, len(p.Relationships))
		for n := range p.Relationships {
			names = append(names, n)
		}
		sort.Strings(names)
		rels := make([]string, len(names))
		for i, n := range names {
			rels[i] = n + " " + p.Relationships[n]
		}
		fmt.Fprintf(&sb, "; relationships: %s", strings.Join(rels, ", "))
	}
	return sb.String()
}

// RenderWorldFact renders a world fact with its rules.
func RenderWorldFact(f *story.WorldFact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s, %s]", f.Element, f.Category, f.Importance)
	if f.Description != "" {
		fmt.Fprintf(&sb, ": %s", f.Description)
	}
	if len(f.ConsistencyRules) > 0 {
		fmt.Fprintf(&sb, "; rules: %s", strings.Join(f.ConsistencyRules, "; "))
	}
	return sb.String()
}

// RenderThread renders a plot thread with its progress.
func RenderThread(t *story.PlotThread) string {
	s := fmt.Sprintf("%s (%s, %d%%)", t.Name, t.Status, int(t.Progress*100+0.5))
	if t.Description != "" {
		s += ": " + t.Description
	}
	return s
}
