package extractor

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/textutil"
)

const (
	defaultMaxStatements = 12
	minStatementRunes    = 12
	maxKeywords          = 5
	threadStep           = 0.1
	maxHeuristicProgress = 0.9
)

// typeRules classify a statement by the first rule whose cue words occur.
var typeRules = []struct {
	typ  memory.MemoryType
	cues []string
}{
	{memory.TypeWarning, []string{"beware", "warned", "warning", "danger", "dangerous"}},
	{memory.TypeForeshadowing, []string{"someday", "one day", "prophecy", "foretold", "omen", "little did", "would later", "destined"}},
	{memory.TypeAbilityDiscovery, []string{"discovered", "awakened", "mastered", "ability", "technique", "breakthrough"}},
	{memory.TypeItemGiving, []string{"gave", "handed", "gift", "bestowed", "received"}},
	{memory.TypeChoice, []string{"chose", "decided", "decision", "choice"}},
	{memory.TypeWorldFact, []string{"cannot", "law", "laws", "forbidden", "realm", "empire", "kingdom", "sect"}},
	{memory.TypeEmotion, []string{"felt", "fear", "anger", "joy", "tears", "sorrow", "grief", "afraid"}},
	{memory.TypeSetting, []string{"city", "mountain", "forest", "village", "river", "temple", "valley"}},
}

var baseImportance = map[memory.MemoryType]float64{
	memory.TypeAbilityDiscovery:     0.8,
	memory.TypeWarning:              0.75,
	memory.TypeForeshadowing:        0.7,
	memory.TypeWorldFact:            0.7,
	memory.TypeChoice:               0.65,
	memory.TypePlotDevelopment:      0.6,
	memory.TypeItemGiving:           0.6,
	memory.TypeCharacterInteraction: 0.55,
	memory.TypeEmotion:              0.45,
	memory.TypeSetting:              0.4,
}

var (
	deathCues      = []string{"died", "was killed", "were killed", "perished", "was slain", "fell dead"}
	resolutionCues = []string{"resolved", "finally solved", "came to an end", "was over", "completed", "fulfilled"}
	relationCues   = []string{"friend", "ally", "rival", "enemy", "master", "disciple", "mentor", "brother", "sister", "betrothed"}
	ruleCues       = []string{"cannot", "must not", "never", "forbidden"}

	// newCharacter catches a capitalized name followed by a speech or action
	// verb, e.g. "Elder Mo nodded".
	newCharacter = regexp.MustCompile(`\b([A-Z][a-z]+(?: [A-Z][a-z]+)?) (?:said|asked|replied|smiled|nodded|shouted|whispered|laughed|frowned|bowed|sighed)\b`)
	notNames     = map[string]struct{}{
		"The": {}, "He": {}, "She": {}, "They": {}, "It": {}, "His": {}, "Her": {}, "A": {}, "An": {},
		"But": {}, "Then": {}, "When": {}, "Someone": {}, "Everyone": {}, "Nobody": {}, "We": {}, "I": {}, "You": {},
	}
)

// HeuristicExtractor extracts memories with deterministic keyword rules.
type HeuristicExtractor struct {
	// MaxStatements caps the statements kept per chapter; the most
	// important are kept.
	MaxStatements int
}

// NewHeuristic creates a HeuristicExtractor with default limits.
func NewHeuristic() *HeuristicExtractor {
	return &HeuristicExtractor{MaxStatements: defaultMaxStatements}
}

func (h *HeuristicExtractor) Name() string { return StrategyHeuristic }

func (h *HeuristicExtractor) Extract(ctx context.Context, chapter int, content string, st *story.State) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st == nil {
		st = story.NewState("")
	}

	sentences := textutil.SplitSentences(content)
	known := knownNames(st)
	for _, s := range sentences {
		for _, m := range newCharacter.FindAllStringSubmatch(s, -1) {
			name := m[1]
			if _, skip := notNames[strings.Fields(name)[0]]; skip {
				continue
			}
			known[strings.ToLower(name)] = name
		}
	}

	var statements []Statement
	for _, s := range sentences {
		if utf8.RuneCountInString(s) < minStatementRunes {
			continue
		}
		statements = append(statements, h.statement(s, known, st))
	}
	statements = h.limit(statements)

	return &Extraction{
		Statements: statements,
		Delta:      buildDelta(chapter, sentences, known, st),
	}, nil
}

func (h *HeuristicExtractor) statement(sentence string, known map[string]string, st *story.State) Statement {
	lower := strings.ToLower(sentence)
	chars := mentioned(lower, known)

	typ := memory.TypePlotDevelopment
	matched := false
	for _, r := range typeRules {
		if textutil.ContainsAny(lower, r.cues) {
			typ, matched = r.typ, true
			break
		}
	}
	if !matched && len(chars) >= 2 {
		typ = memory.TypeCharacterInteraction
	}

	var keywords []string
	for _, t := range st.SortedThreads() {
		if textutil.ContainsWord(lower, strings.ToLower(t.Name)) {
			keywords = append(keywords, t.Name)
		}
	}
	for _, f := range st.SortedWorldFacts() {
		if textutil.ContainsWord(lower, strings.ToLower(f.Element)) {
			keywords = append(keywords, f.Element)
		}
	}
	stateHits := len(keywords)
	seen := make(map[string]bool)
	for _, w := range textutil.SignificantWords(lower) {
		if len(keywords) >= maxKeywords+stateHits {
			break
		}
		if utf8.RuneCountInString(w) < 5 || seen[w] || isNamePart(w, chars) {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}

	importance := baseImportance[typ]
	importance += 0.05 * float64(min(len(chars), 2))
	if stateHits > 0 {
		importance += 0.05
	}

	return Statement{
		Content:    sentence,
		Type:       typ,
		Importance: round2(clamp01(importance)),
		Characters: chars,
		Keywords:   keywords,
	}
}

// limit keeps the MaxStatements most important statements in their
// original order.
func (h *HeuristicExtractor) limit(statements []Statement) []Statement {
	n := h.MaxStatements
	if n <= 0 {
		n = defaultMaxStatements
	}
	if len(statements) <= n {
		return statements
	}
	idx := make([]int, len(statements))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return statements[idx[a]].Importance > statements[idx[b]].Importance
	})
	idx = idx[:n]
	sort.Ints(idx)
	out := make([]Statement, len(idx))
	for i, j := range idx {
		out[i] = statements[j]
	}
	return out
}

// knownNames maps lower-cased character names to their stored spelling.
func knownNames(st *story.State) map[string]string {
	out := make(map[string]string, len(st.Characters))
	for name := range st.Characters {
		out[strings.ToLower(name)] = name
	}
	return out
}

// mentioned returns the names occurring in lower, sorted.
func mentioned(lower string, known map[string]string) []string {
	var out []string
	for l, name := range known {
		if textutil.ContainsWord(lower, l) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func isNamePart(word string, names []string) bool {
	for _, n := range names {
		for _, part := range strings.Fields(strings.ToLower(n)) {
			if part == word {
				return true
			}
		}
	}
	return false
}

// buildDelta derives character, world fact and thread updates.
func buildDelta(chapter int, sentences []string, known map[string]string, st *story.State) *story.Delta {
	delta := &story.Delta{Chapter: chapter}
	updates := make(map[string]*story.CharacterUpdate)
	update := func(name string) *story.CharacterUpdate {
		u, ok := updates[name]
		if !ok {
			u = &story.CharacterUpdate{Name: name}
			updates[name] = u
		}
		return u
	}
	facts := make(map[string]*story.WorldFact)
	threadMentioned := make(map[string]bool)
	threadResolved := make(map[string]bool)

	for _, s := range sentences {
		lower := strings.ToLower(s)
		chars := mentioned(lower, known)
		for _, name := range chars {
			u := update(name)
			if textutil.ContainsAny(lower, deathCues) {
				u.Status = story.StatusDeceased
			}
		}
		if len(chars) == 1 {
			u := update(chars[0])
			for _, trait := range story.KnownTraits() {
				if textutil.ContainsWord(lower, trait) {
					u.AddTraits = append(u.AddTraits, trait)
					u.RemoveTraits = append(u.RemoveTraits, story.Antonyms(trait)...)
				}
			}
		}
		if len(chars) >= 2 {
			relationships(lower, chars, update)
		}

		for _, f := range st.SortedWorldFacts() {
			if textutil.ContainsWord(lower, strings.ToLower(f.Element)) && textutil.ContainsAny(lower, ruleCues) {
				nf, ok := facts[f.Element]
				if !ok {
					nf = &story.WorldFact{Element: f.Element}
					facts[f.Element] = nf
				}
				nf.ConsistencyRules = append(nf.ConsistencyRules, s)
			}
		}
		for _, t := range st.SortedThreads() {
			if !textutil.ContainsWord(lower, strings.ToLower(t.Name)) {
				continue
			}
			threadMentioned[t.Name] = true
			if textutil.ContainsAny(lower, resolutionCues) {
				threadResolved[t.Name] = true
			}
		}
	}

	names := make([]string, 0, len(updates))
	for n := range updates {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		delta.Characters = append(delta.Characters, *updates[n])
	}

	elements := make([]string, 0, len(facts))
	for e := range facts {
		elements = append(elements, e)
	}
	sort.Strings(elements)
	for _, e := range elements {
		delta.WorldFacts = append(delta.WorldFacts, facts[e])
	}

	for _, t := range st.SortedThreads() {
		if !threadMentioned[t.Name] || t.Status != story.ThreadActive {
			continue
		}
		u := story.ThreadUpdate{Name: t.Name, Progress: clamp01(round2(min(t.Progress+threadStep, maxHeuristicProgress)))}
		if u.Progress < t.Progress {
			u.Progress = t.Progress
		}
		if threadResolved[t.Name] {
			u.Status = story.ThreadResolved
			u.Progress = 1
		}
		delta.Threads = append(delta.Threads, u)
	}
	return delta
}

// relationships records "A ... rival ... B" as A's label for B, the first
// named character being the subject.
func relationships(lower string, chars []string, update func(string) *story.CharacterUpdate) {
	var label string
	for _, cue := range relationCues {
		if textutil.ContainsWord(lower, cue) {
			label = cue
			break
		}
	}
	if label == "" {
		return
	}
	ordered := append([]string(nil), chars...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return textutil.IndexWord(lower, strings.ToLower(ordered[i])) < textutil.IndexWord(lower, strings.ToLower(ordered[j]))
	})
	u := update(ordered[0])
	if u.Relationships == nil {
		u.Relationships = make(map[string]string)
	}
	u.Relationships[ordered[1]] = label
}
