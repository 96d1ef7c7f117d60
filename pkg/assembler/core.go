package assembler

import (
	"sort"
	"strings"

	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/story"
)

// selectCore picks the long-term state implicated by the top memories, most
// relevant first: characters named in those memories, threads and world
// facts mentioned by them, then core world facts, then the remaining active
// threads. Names within each group are sorted so the result is stable.
func selectCore(st *story.State, top []ranking.Ranked) []CoreItem {
	if st == nil {
		return nil
	}

	var corpus strings.Builder
	named := make(map[string]struct{})
	for _, r := range top {
		corpus.WriteString(strings.ToLower(r.Entry.Content))
		corpus.WriteByte('\n')
		for _, k := range r.Entry.Keywords {
			corpus.WriteString(strings.ToLower(k))
			corpus.WriteByte('\n')
		}
		for _, c := range r.Entry.Characters {
			named[c] = struct{}{}
		}
	}
	text := corpus.String()
	mentions := func(name string) bool {
		name = strings.ToLower(strings.TrimSpace(name))
		return name != "" && strings.Contains(text, name)
	}

	var items []CoreItem
	seenThreads := make(map[string]bool)
	seenFacts := make(map[string]bool)

	for _, p := range st.SortedCharacters() {
		if _, ok := named[p.Name]; ok || mentions(p.Name) {
			items = append(items, CoreItem{Kind: KindCharacter, Text: RenderCharacter(p), Character: p})
		}
	}
	for _, t := range st.SortedThreads() {
		if mentions(t.Name) {
			seenThreads[t.Name] = true
			items = append(items, CoreItem{Kind: KindThread, Text: RenderThread(t), Thread: t})
		}
	}
	facts := st.SortedWorldFacts()
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Element < facts[j].Element })
	for _, f := range facts {
		if mentions(f.Element) {
			seenFacts[f.Element] = true
			items = append(items, CoreItem{Kind: KindWorldFact, Text: RenderWorldFact(f), WorldFact: f})
		}
	}
	for _, f := range facts {
		if f.Importance == story.ImportanceCore && !seenFacts[f.Element] {
			items = append(items, CoreItem{Kind: KindWorldFact, Text: RenderWorldFact(f), WorldFact: f})
		}
	}
	for _, t := range st.SortedThreads() {
		if t.Status == story.ThreadActive && !seenThreads[t.Name] {
			items = append(items, CoreItem{Kind: KindThread, Text: RenderThread(t), Thread: t})
		}
	}
	return items
}
