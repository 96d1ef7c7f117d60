package story

import (
	"fmt"
	"sort"
	"strings"
)

// Role of a character in the story.
type Role string

const (
	RoleProtagonist Role = "protagonist"
	RoleSupporting  Role = "supporting"
	RoleAntagonist  Role = "antagonist"
	RoleMentor      Role = "mentor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProtagonist, RoleSupporting, RoleAntagonist, RoleMentor:
		return true
	}
	return false
}

// Character statuses recognised by the coherence checks. Other free-form
// statuses ("injured", "missing") are stored as given.
const (
	StatusAlive    = "alive"
	StatusDeceased = "deceased"
)

// CharacterProfile is the long-term record of one character.
type CharacterProfile struct {
	Name               string            `json:"name"`
	Role               Role              `json:"role"`
	Traits             []string          `json:"traits,omitempty"`
	Relationships      map[string]string `json:"relationships,omitempty"`
	Status             string            `json:"status,omitempty"`
	LastUpdatedChapter int               `json:"last_updated_chapter"`
}

// Deceased reports whether the character is recorded as dead.
func (p *CharacterProfile) Deceased() bool {
	switch strings.ToLower(p.Status) {
	case StatusDeceased, "dead", "killed":
		return true
	}
	return false
}

// FactCategory groups world facts.
type FactCategory string

const (
	CategoryPowerSystem     FactCategory = "power-system"
	CategorySocialStructure FactCategory = "social-structure"
	CategoryGeography       FactCategory = "geography"
	CategoryHistory         FactCategory = "history"
)

func (c FactCategory) Valid() bool {
	switch c {
	case CategoryPowerSystem, CategorySocialStructure, CategoryGeography, CategoryHistory:
		return true
	}
	return false
}

// FactImportance ranks world facts for context selection.
type FactImportance string

const (
	ImportanceCore          FactImportance = "core"
	ImportanceImportant     FactImportance = "important"
	ImportanceSupplementary FactImportance = "supplementary"
)

func (i FactImportance) Valid() bool {
	switch i {
	case ImportanceCore, ImportanceImportant, ImportanceSupplementary:
		return true
	}
	return false
}

func (i FactImportance) rank() int {
	switch i {
	case ImportanceCore:
		return 3
	case ImportanceImportant:
		return 2
	case ImportanceSupplementary:
		return 1
	}
	return 0
}

// WorldFact is an established rule or element of the setting.
type WorldFact struct {
	Element     string         `json:"element"`
	Category    FactCategory   `json:"category"`
	Importance  FactImportance `json:"importance"`
	Description string         `json:"description,omitempty"`

	IntroducedChapter int `json:"introduced_chapter"`

	// ConsistencyRules are constraints later content must not violate,
	// e.g. "cannot fly" or "never use magic in the capital".
	ConsistencyRules []string `json:"consistency_rules,omitempty"`
}

// ThreadStatus of a plot thread.
type ThreadStatus string

const (
	ThreadActive    ThreadStatus = "active"
	ThreadResolved  ThreadStatus = "resolved"
	ThreadAbandoned ThreadStatus = "abandoned"
)

func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadActive, ThreadResolved, ThreadAbandoned:
		return true
	}
	return false
}

// PlotThread is an ongoing storyline.
type PlotThread struct {
	Name               string       `json:"name"`
	Status             ThreadStatus `json:"status"`
	Description        string       `json:"description,omitempty"`
	Progress           float64      `json:"progress"`
	LastTouchedChapter int          `json:"last_touched_chapter"`
}

// State is the structured long-term state of one story.
type State struct {
	StoryID    string                       `json:"story_id"`
	Characters map[string]*CharacterProfile `json:"characters,omitempty"`
	WorldFacts map[string]*WorldFact        `json:"world_facts,omitempty"`
	Threads    map[string]*PlotThread       `json:"threads,omitempty"`

	// ExtractedChapters maps a chapter number to the digest of the content
	// whose delta has been applied.
	ExtractedChapters map[int]string `json:"extracted_chapters,omitempty"`

	Version int64 `json:"version"`
}

// NewState returns an empty state for storyID.
func NewState(storyID string) *State {
	return &State{
		StoryID:           storyID,
		Characters:        make(map[string]*CharacterProfile),
		WorldFacts:        make(map[string]*WorldFact),
		Threads:           make(map[string]*PlotThread),
		ExtractedChapters: make(map[int]string),
	}
}

// SortedCharacters returns the profiles ordered by name.
func (s *State) SortedCharacters() []*CharacterProfile {
	out := make([]*CharacterProfile, 0, len(s.Characters))
	for _, p := range s.Characters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortedWorldFacts returns world facts ordered by importance, then element.
func (s *State) SortedWorldFacts() []*WorldFact {
	out := make([]*WorldFact, 0, len(s.WorldFacts))
	for _, f := range s.WorldFacts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Importance.rank(), out[j].Importance.rank(); ri != rj {
			return ri > rj
		}
		return out[i].Element < out[j].Element
	})
	return out
}

// SortedThreads returns plot threads ordered by name.
func (s *State) SortedThreads() []*PlotThread {
	out := make([]*PlotThread, 0, len(s.Threads))
	for _, t := range s.Threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := NewState(s.StoryID)
	out.Version = s.Version
	for k, p := range s.Characters {
		cp := *p
		cp.Traits = append([]string(nil), p.Traits...)
		if p.Relationships != nil {
			cp.Relationships = make(map[string]string, len(p.Relationships))
			for n, l := range p.Relationships {
				cp.Relationships[n] = l
			}
		}
		out.Characters[k] = &cp
	}
	for k, f := range s.WorldFacts {
		cf := *f
		cf.ConsistencyRules = append([]string(nil), f.ConsistencyRules...)
		out.WorldFacts[k] = &cf
	}
	for k, t := range s.Threads {
		ct := *t
		out.Threads[k] = &ct
	}
	for k, d := range s.ExtractedChapters {
		out.ExtractedChapters[k] = d
	}
	return out
}

// CharacterUpdate describes changes to one character.
type CharacterUpdate struct {
	Name          string            `json:"name"`
	Role          Role              `json:"role,omitempty"`
	AddTraits     []string          `json:"add_traits,omitempty"`
	RemoveTraits  []string          `json:"remove_traits,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Status        string            `json:"status,omitempty"`
}

// ThreadUpdate describes progress on one plot thread.
type ThreadUpdate struct {
	Name        string       `json:"name"`
	Status      ThreadStatus `json:"status,omitempty"`
	Description string       `json:"description,omitempty"`
	Progress    float64      `json:"progress"`
}

// Delta is the set of state changes extracted from one chapter.
type Delta struct {
	Chapter int `json:"chapter"`

	// Digest identifies the chapter content the delta was derived from.
	Digest string `json:"digest,omitempty"`

	Characters []CharacterUpdate `json:"characters,omitempty"`
	WorldFacts []*WorldFact      `json:"world_facts,omitempty"`
	Threads    []ThreadUpdate    `json:"threads,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Characters) == 0 && len(d.WorldFacts) == 0 && len(d.Threads) == 0 && d.Digest == "")
}

// Validate checks closed enumerations and ranges.
func (d *Delta) Validate() error {
	if d == nil {
		return ErrInvalidDelta
	}
	if d.Chapter < 1 {
		return fmt.Errorf("%w: chapter %d", ErrInvalidDelta, d.Chapter)
	}
	for _, c := range d.Characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: character without name", ErrInvalidDelta)
		}
		if c.Role != "" && !c.Role.Valid() {
			return fmt.Errorf("%w: character %s has role %q", ErrInvalidDelta, c.Name, c.Role)
		}
	}
	for _, f := range d.WorldFacts {
		if f == nil || strings.TrimSpace(f.Element) == "" {
			return fmt.Errorf("%w: world fact without element", ErrInvalidDelta)
		}
		if f.Category != "" && !f.Category.Valid() {
			return fmt.Errorf("%w: world fact %s has category %q", ErrInvalidDelta, f.Element, f.Category)
		}
		if f.Importance != "" && !f.Importance.Valid() {
			return fmt.Errorf("%w: world fact %s has importance %q", ErrInvalidDelta, f.Element, f.Importance)
		}
	}
	for _, t := range d.Threads {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: thread without name", ErrInvalidDelta)
		}
		if t.Status != "" && !t.Status.Valid() {
			return fmt.Errorf("%w: thread %s has status %q", ErrInvalidDelta, t.Name, t.Status)
		}
		if t.Progress < 0 || t.Progress > 1 {
			return fmt.Errorf("%w: thread %s progress %.2f", ErrInvalidDelta, t.Name, t.Progress)
		}
	}
	return nil
}

// Apply merges d into s in place and bumps Version. Re-applying a delta
// changes nothing but Version. Thread progress never moves backwards and
// terminal threads are not reopened.
func (s *State) Apply(d *Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if s.Characters == nil {
		s.Characters = make(map[string]*CharacterProfile)
	}
	if s.WorldFacts == nil {
		s.WorldFacts = make(map[string]*WorldFact)
	}
	if s.Threads == nil {
		s.Threads = make(map[string]*PlotThread)
	}
	if s.ExtractedChapters == nil {
		s.ExtractedChapters = make(map[int]string)
	}

	for _, u := range d.Characters {
		s.applyCharacter(d.Chapter, u)
	}
	for _, f := range d.WorldFacts {
		s.applyWorldFact(d.Chapter, f)
	}
	for _, u := range d.Threads {
		s.applyThread(d.Chapter, u)
	}
	if d.Digest != "" {
		s.ExtractedChapters[d.Chapter] = d.Digest
	}
	s.Version++
	return nil
}

func (s *State) applyCharacter(chapter int, u CharacterUpdate) {
	p, ok := s.Characters[u.Name]
	if !ok {
		p = &CharacterProfile{Name: u.Name, Role: RoleSupporting, Status: StatusAlive}
		s.Characters[u.Name] = p
	}
	if u.Role != "" {
		p.Role = u.Role
	}
	p.Traits = mergeSet(removeFromSet(p.Traits, u.RemoveTraits), u.AddTraits)
	if len(u.Relationships) > 0 {
		if p.Relationships == nil {
			p.Relationships = make(map[string]string, len(u.Relationships))
		}
		for name, label := range u.Relationships {
			p.Relationships[name] = label
		}
	}
	if u.Status != "" {
		p.Status = u.Status
	}
	if chapter > p.LastUpdatedChapter {
		p.LastUpdatedChapter = chapter
	}
}

func (s *State) applyWorldFact(chapter int, f *WorldFact) {
	existing, ok := s.WorldFacts[f.Element]
	if !ok {
		nf := *f
		nf.ConsistencyRules = mergeSet(nil, f.ConsistencyRules)
		if nf.IntroducedChapter == 0 {
			nf.IntroducedChapter = chapter
		}
		if nf.Importance == "" {
			nf.Importance = ImportanceSupplementary
		}
		s.WorldFacts[f.Element] = &nf
		return
	}
	if f.Category != "" && existing.Category == "" {
		existing.Category = f.Category
	}
	if f.Importance.rank() > existing.Importance.rank() {
		existing.Importance = f.Importance
	}
	if f.Description != "" && existing.Description == "" {
		existing.Description = f.Description
	}
	if f.IntroducedChapter > 0 && f.IntroducedChapter < existing.IntroducedChapter {
		existing.IntroducedChapter = f.IntroducedChapter
	}
	existing.ConsistencyRules = mergeSet(existing.ConsistencyRules, f.ConsistencyRules)
}

func (s *State) applyThread(chapter int, u ThreadUpdate) {
	t, ok := s.Threads[u.Name]
	if !ok {
		t = &PlotThread{Name: u.Name, Status: ThreadActive}
		s.Threads[u.Name] = t
	}
	if u.Description != "" {
		t.Description = u.Description
	}
	if t.Status == ThreadActive {
		if u.Progress > t.Progress {
			t.Progress = u.Progress
		}
		if u.Status == ThreadResolved || u.Status == ThreadAbandoned {
			t.Status = u.Status
		}
		if t.Status == ThreadResolved {
			t.Progress = 1
		}
	}
	if chapter > t.LastTouchedChapter {
		t.LastTouchedChapter = chapter
	}
}

func mergeSet(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func removeFromSet(base, remove []string) []string {
	if len(remove) == 0 {
		return base
	}
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[strings.TrimSpace(r)] = struct{}{}
	}
	out := base[:0:0]
	for _, v := range base {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
