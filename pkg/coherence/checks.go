package coherence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/storyloom/storyloom/pkg/assembler"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/textutil"
)

const (
	penaltyDeceased      = 0.4
	penaltyTrait         = 0.25
	penaltyWorldRule     = 0.35
	penaltyFutureChapter = 0.3
	penaltyFirstMeeting  = 0.3
	penaltyReopened      = 0.25

	// plotFloor is the plot score of a chapter that echoes nothing.
	plotFloor = 0.4

	echoedMemories = 3
)

var (
	actionWords = []string{
		"said", "says", "asked", "replied", "shouted", "whispered", "laughed", "smiled",
		"walked", "ran", "attacked", "nodded", "looked", "stood", "arrived", "fought",
	}
	memorialWords = []string{
		"grave", "tomb", "funeral", "memory", "memories", "remembered", "recalled",
		"late", "corpse", "ghost", "spirit", "mourned", "died", "death",
	}
	negations = []string{
		"not", "never", "cannot", "can't", "couldn't", "no longer", "unable", "failed to",
	}
	firstMeetingPhrases = []string{
		"first time", "never met", "first met", "never seen before", "a stranger",
		"introduced himself", "introduced herself", "introduced themselves",
	}
	reopenWords = []string{
		"still", "again", "unresolved", "remains", "continues", "reopened", "yet to",
	}
	prohibitionMarkers = []string{
		" cannot ", " can't ", " can not ", " must not ", " must never ", " may not ",
		" never ", " is forbidden to ", " are forbidden to ",
	}

	chapterRef = regexp.MustCompile(`\bchapter\s+(\d+)\b`)
)

func characters(b *assembler.Bundle) []*story.CharacterProfile {
	if b == nil {
		return nil
	}
	if b.State != nil {
		return b.State.SortedCharacters()
	}
	var out []*story.CharacterProfile
	for _, it := range b.Core {
		if it.Character != nil {
			out = append(out, it.Character)
		}
	}
	return out
}

func threads(b *assembler.Bundle) []*story.PlotThread {
	if b == nil {
		return nil
	}
	if b.State != nil {
		return b.State.SortedThreads()
	}
	var out []*story.PlotThread
	for _, it := range b.Core {
		if it.Thread != nil {
			out = append(out, it.Thread)
		}
	}
	return out
}

func worldFacts(b *assembler.Bundle) []*story.WorldFact {
	if b == nil {
		return nil
	}
	if b.State != nil {
		return b.State.SortedWorldFacts()
	}
	var out []*story.WorldFact
	for _, it := range b.Core {
		if it.WorldFact != nil {
			out = append(out, it.WorldFact)
		}
	}
	return out
}

// checkCharacters flags deceased characters who act and behavior that
// contradicts an established trait.
func checkCharacters(doc *document, b *assembler.Bundle) axisResult {
	var findings []finding
	for _, p := range characters(b) {
		sents := doc.sentencesWith(p.Name)
		if len(sents) == 0 {
			continue
		}
		if p.Deceased() {
			for _, s := range sents {
				if textutil.ContainsAny(s, actionWords) && !textutil.ContainsAny(s, memorialWords) {
					findings = append(findings, finding{
						description: fmt.Sprintf("%s is recorded as %s but acts in this chapter", p.Name, p.Status),
						entities:    []string{p.Name},
						chapters:    []int{p.LastUpdatedChapter},
						penalty:     penaltyDeceased,
					})
					break
				}
			}
		}
		for _, trait := range p.Traits {
			opposite := story.Antonyms(trait)
			if len(opposite) == 0 {
				continue
			}
			for _, s := range sents {
				if textutil.ContainsAny(s, opposite) {
					findings = append(findings, finding{
						description: fmt.Sprintf("%s is established as %s but is portrayed otherwise", p.Name, trait),
						entities:    []string{p.Name},
						chapters:    []int{p.LastUpdatedChapter},
						penalty:     penaltyTrait,
					})
					break
				}
			}
		}
	}
	return penalize(findings)
}

// checkPlot measures how much of the open story the chapter picks up:
// active threads, the top ranked memories and the player's choice.
func checkPlot(doc *document, b *assembler.Bundle) axisResult {
	if b == nil {
		return axisResult{score: 1}
	}
	var (
		findings []finding
		total    int
		echoed   int
	)
	for _, t := range threads(b) {
		if t.Status != story.ThreadActive {
			continue
		}
		total++
		if doc.mentions(t.Name) || overlap(doc, t.Name) >= 0.5 {
			echoed++
			continue
		}
		findings = append(findings, finding{
			description: fmt.Sprintf("active thread %q is not advanced", t.Name),
			entities:    []string{t.Name},
			chapters:    []int{t.LastTouchedChapter},
		})
	}

	top := b.RankedMemories
	if len(top) > echoedMemories {
		top = top[:echoedMemories]
	}
	for _, r := range top {
		e := r.Entry
		total++
		if containsAnyMention(doc, e.Characters) || containsAnyMention(doc, e.Keywords) || overlap(doc, e.Content) >= 0.3 {
			echoed++
			continue
		}
		findings = append(findings, finding{
			description: fmt.Sprintf("established fact from chapter %d is ignored: %s", e.ChapterNumber, textutil.Truncate(e.Content, 60)),
			entities:    append([]string(nil), e.Characters...),
			chapters:    []int{e.ChapterNumber},
		})
	}

	if len(textutil.SignificantWords(b.UserChoice)) > 0 {
		total++
		if overlap(doc, b.UserChoice) > 0 {
			echoed++
		} else {
			findings = append(findings, finding{description: fmt.Sprintf("player choice %q is not reflected", b.UserChoice)})
		}
	}

	if total == 0 {
		return axisResult{score: 1}
	}
	score := plotFloor + (1-plotFloor)*float64(echoed)/float64(total)
	return axisResult{score: score, findings: findings}
}

// checkWorld flags sentences that do what a world fact's consistency rule
// prohibits.
func checkWorld(doc *document, b *assembler.Bundle) axisResult {
	var findings []finding
	for _, f := range worldFacts(b) {
		for _, rule := range f.ConsistencyRules {
			subject, action, ok := parseProhibition(rule)
			if !ok {
				continue
			}
			for _, s := range doc.sentencesWith(action) {
				if textutil.ContainsAny(s, negations) {
					continue
				}
				if subject != "" && !strings.Contains(s, stem(subject)) {
					continue
				}
				findings = append(findings, finding{
					description: fmt.Sprintf("%s rule %q is violated", f.Element, rule),
					entities:    []string{f.Element},
					chapters:    []int{f.IntroducedChapter},
					penalty:     penaltyWorldRule,
				})
				break
			}
		}
	}
	return penalize(findings)
}

// checkTemporal flags references to chapters that do not exist yet, first
// meetings with characters already met, and resolved threads treated as open.
func checkTemporal(doc *document, b *assembler.Bundle) axisResult {
	if b == nil {
		return axisResult{score: 1}
	}
	var findings []finding

	next := b.NextChapter()
	seen := make(map[int]bool)
	for _, m := range chapterRef.FindAllStringSubmatch(doc.lower, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= next || seen[n] {
			continue
		}
		seen[n] = true
		findings = append(findings, finding{
			description: fmt.Sprintf("refers to chapter %d, which has not happened", n),
			chapters:    []int{n},
			penalty:     penaltyFutureChapter,
		})
	}

	for _, p := range characters(b) {
		if p.Role == story.RoleProtagonist || p.LastUpdatedChapter >= next {
			continue
		}
		for _, s := range doc.sentencesWith(p.Name) {
			if textutil.ContainsAny(s, firstMeetingPhrases) {
				findings = append(findings, finding{
					description: fmt.Sprintf("treats %s as a first meeting though they appeared by chapter %d", p.Name, p.LastUpdatedChapter),
					entities:    []string{p.Name},
					chapters:    []int{p.LastUpdatedChapter},
					penalty:     penaltyFirstMeeting,
				})
				break
			}
		}
	}

	for _, t := range threads(b) {
		if t.Status != story.ThreadResolved {
			continue
		}
		for _, s := range doc.sentencesWith(t.Name) {
			if textutil.ContainsAny(s, reopenWords) {
				findings = append(findings, finding{
					description: fmt.Sprintf("resolved thread %q is treated as open", t.Name),
					entities:    []string{t.Name},
					chapters:    []int{t.LastTouchedChapter},
					penalty:     penaltyReopened,
				})
				break
			}
		}
	}
	return penalize(findings)
}

// parseProhibition splits "mortals cannot sense qi" into the subject
// "mortals" and the prohibited action "sense qi".
func parseProhibition(rule string) (subject, action string, ok bool) {
	padded := " " + strings.ToLower(strings.TrimSpace(rule)) + " "
	for _, m := range prohibitionMarkers {
		i := strings.Index(padded, m)
		if i < 0 {
			continue
		}
		subject = strings.TrimSpace(padded[:i])
		action = strings.Trim(strings.TrimSpace(padded[i+len(m):]), ".,;:!")
		switch subject {
		case "no one", "nobody", "one", "anyone", "everyone":
			subject = ""
		}
		return subject, action, action != ""
	}
	return "", "", false
}

// stem reduces a subject phrase to its last word without a plural s.
func stem(subject string) string {
	words := strings.Fields(subject)
	last := words[len(words)-1]
	if len(last) > 3 {
		last = strings.TrimSuffix(last, "s")
	}
	return last
}

// overlap is the share of text's significant words the document mentions.
func overlap(doc *document, text string) float64 {
	words := textutil.SignificantWords(text)
	if len(words) == 0 {
		return 0
	}
	hit := 0
	for _, w := range words {
		if doc.mentions(w) {
			hit++
		}
	}
	return float64(hit) / float64(len(words))
}

func containsAnyMention(doc *document, names []string) bool {
	for _, n := range names {
		if doc.mentions(n) {
			return true
		}
	}
	return false
}
