package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/storyloom/storyloom/pkg/assembler"
	"github.com/storyloom/storyloom/pkg/coherence"
	"github.com/storyloom/storyloom/pkg/textutil"
)

// choiceMarker prefixes the prompt line carrying the player's choice.
const choiceMarker = "Player choice:"

const rawSummaryRunes = 100

var fencedOutput = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// output is the JSON envelope a chapter is requested in.
type output struct {
	Title                string   `json:"title"`
	Content              string   `json:"content"`
	Summary              string   `json:"summary"`
	KeyElements          []string `json:"key_elements"`
	Mood                 string   `json:"mood"`
	CharacterDevelopment string   `json:"character_development"`
	ChoiceSetup          string   `json:"choice_setup"`
}

// buildPrompt renders the bundle into a chapter request. Issues of the
// previous attempt become correction instructions.
func buildPrompt(b *assembler.Bundle, corrections []coherence.Issue) string {
	var sb strings.Builder

	if b.Story != nil {
		sb.WriteString(b.Story.Theme.PromptPrefix())
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "Story: %s\n", b.Story.Title)
		if b.Story.Protagonist != "" {
			fmt.Fprintf(&sb, "Protagonist: %s\n", b.Story.Protagonist)
		}
		if b.Story.Background != "" {
			fmt.Fprintf(&sb, "Background: %s\n", b.Story.Background)
		}
		sb.WriteString("\n")
	}

	if len(b.RecentChapters) > 0 {
		sb.WriteString("Previous chapters:\n")
		for i := len(b.RecentChapters) - 1; i >= 0; i-- {
			c := b.RecentChapters[i]
			fmt.Fprintf(&sb, "Chapter %d: %s\n", c.Number, c.Digest())
		}
		sb.WriteString("\n")
	}

	if len(b.Core) > 0 {
		sb.WriteString("Established facts:\n")
		for _, it := range b.Core {
			fmt.Fprintf(&sb, "- %s: %s\n", it.Kind, it.Text)
		}
		sb.WriteString("\n")
	}

	if len(b.RankedMemories) > 0 {
		sb.WriteString("Relevant memories:\n")
		for _, r := range b.RankedMemories {
			fmt.Fprintf(&sb, "- [%s relevance, chapter %d, %s] %s\n",
				r.Band(), r.Entry.ChapterNumber, r.Entry.MemoryType, r.Entry.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "%s %s\n\n", choiceMarker, b.UserChoice)

	if len(corrections) > 0 {
		sb.WriteString("The previous draft had consistency problems. Fix them:\n")
		for _, is := range corrections {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", is.Severity, is.Type, is.Description)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Write chapter %d. Follow from the player's choice, stay consistent with every established fact, "+
		"advance at least one open plot thread and do not refer to events that have not happened.\n\n", b.NextChapter())
	sb.WriteString("Answer with one fenced JSON block:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`{
  "title": "chapter title",
  "content": "the chapter text",
  "summary": "summary in under 50 words",
  "key_elements": ["..."],
  "mood": "overall mood",
  "character_development": "how the characters changed",
  "choice_setup": "the situation leading to the next choice"
}`)
	sb.WriteString("\n```\n")
	return sb.String()
}

// parseOutput reads the fenced JSON envelope. A response without a usable
// envelope is taken as the chapter text itself.
func parseOutput(raw string) output {
	raw = strings.TrimSpace(raw)
	var js string
	if m := fencedOutput.FindStringSubmatch(raw); m != nil {
		js = m[1]
	} else if strings.HasPrefix(raw, "{") {
		js = raw
	}
	if js != "" {
		var out output
		if err := json.Unmarshal([]byte(js), &out); err == nil && strings.TrimSpace(out.Content) != "" {
			out.Content = strings.TrimSpace(out.Content)
			if out.Summary == "" {
				out.Summary = rawSummary(out.Content)
			}
			return out
		}
	}
	return output{Content: raw, Summary: rawSummary(raw)}
}

func rawSummary(content string) string {
	sentences := textutil.SplitSentences(content)
	if len(sentences) == 0 {
		return ""
	}
	return textutil.Truncate(sentences[0], rawSummaryRunes)
}
