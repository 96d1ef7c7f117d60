package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/story"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// errNoJSON is returned when a response carries no JSON object.
var errNoJSON = errors.New("extractor: no JSON object in response")

// legacyTypes maps the coarse categories older prompts produced.
var legacyTypes = map[string]memory.MemoryType{
	"character": memory.TypeCharacterInteraction,
	"plot":      memory.TypePlotDevelopment,
}

type modelMemory struct {
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type"`
	Importance *float64 `json:"importance"`
	Characters []string `json:"characters"`
	Keywords   []string `json:"keywords"`
	Tags       []string `json:"tags"`
}

type modelCharacter struct {
	Name          string            `json:"name"`
	Role          string            `json:"role"`
	Traits        []string          `json:"traits"`
	Status        string            `json:"status"`
	Relationships map[string]string `json:"relationships"`
}

type modelFact struct {
	Element          string   `json:"element"`
	Category         string   `json:"category"`
	Importance       string   `json:"importance"`
	Description      string   `json:"description"`
	ConsistencyRules []string `json:"consistency_rules"`
}

type modelThread struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
	Progress    float64 `json:"progress"`
}

type modelResponse struct {
	Memories   []modelMemory    `json:"memories"`
	Characters []modelCharacter `json:"characters"`
	WorldFacts []modelFact      `json:"world_facts"`
	Threads    []modelThread    `json:"threads"`
}

// ModelExtractor asks the generative service for a fenced JSON extraction
// and falls back to rules when the answer cannot be used.
type ModelExtractor struct {
	completer provider.Completer
	fallback  Extractor
	opts      provider.Options
	logger    logger.Logger
}

// NewModel creates a ModelExtractor. A nil fallback selects the heuristic
// extractor.
func NewModel(completer provider.Completer, fallback Extractor, l logger.Logger) *ModelExtractor {
	if fallback == nil {
		fallback = NewHeuristic()
	}
	if l == nil {
		l = logger.Global()
	}
	return &ModelExtractor{
		completer: completer,
		fallback:  fallback,
		opts:      provider.Options{Temperature: 0.3, MaxTokens: 1000},
		logger:    l,
	}
}

func (m *ModelExtractor) Name() string { return StrategyModel }

func (m *ModelExtractor) Extract(ctx context.Context, chapter int, content string, st *story.State) (*Extraction, error) {
	resp, err := m.completer.Complete(ctx, extractionPrompt(content, st), m.opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		m.logger.WarnContext(ctx, "model extraction failed, using rules", "chapter", chapter, "error", err)
		return m.fallback.Extract(ctx, chapter, content, st)
	}
	ext, err := parseModelResponse(chapter, resp)
	if err != nil {
		m.logger.WarnContext(ctx, "unparseable model extraction, using rules", "chapter", chapter, "error", err)
		return m.fallback.Extract(ctx, chapter, content, st)
	}
	return ext, nil
}

func extractionPrompt(content string, st *story.State) string {
	var sb strings.Builder
	sb.WriteString("Extract the facts of the chapter below that later chapters must stay consistent with.\n\n")
	if st != nil && len(st.Characters) > 0 {
		sb.WriteString("Known characters: ")
		names := make([]string, 0, len(st.Characters))
		for _, p := range st.SortedCharacters() {
			names = append(names, p.Name)
		}
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n")
	}
	if st != nil && len(st.Threads) > 0 {
		sb.WriteString("Open plot threads: ")
		var names []string
		for _, t := range st.SortedThreads() {
			if t.Status == story.ThreadActive {
				names = append(names, fmt.Sprintf("%s (%d%%)", t.Name, int(t.Progress*100+0.5)))
			}
		}
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\nChapter:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nMemory types: ")
	types := make([]string, 0, len(baseImportance))
	for _, r := range typeRules {
		types = append(types, string(r.typ))
	}
	types = append(types, string(memory.TypePlotDevelopment), string(memory.TypeCharacterInteraction))
	sb.WriteString(strings.Join(types, ", "))
	sb.WriteString(`

Answer with one fenced JSON block:
` + "```json" + `
{
  "memories": [{"content": "...", "memory_type": "plot-development", "importance": 0.8, "characters": ["..."], "keywords": ["..."]}],
  "characters": [{"name": "...", "role": "supporting", "traits": ["..."], "status": "alive", "relationships": {"other": "label"}}],
  "world_facts": [{"element": "...", "category": "power-system", "importance": "core", "description": "...", "consistency_rules": ["..."]}],
  "threads": [{"name": "...", "status": "active", "progress": 0.4, "description": "..."}]
}
` + "```\n")
	return sb.String()
}

// parseModelResponse reads the fenced JSON block, or a bare JSON object.
func parseModelResponse(chapter int, resp string) (*Extraction, error) {
	raw := ""
	if m := fencedJSON.FindStringSubmatch(resp); m != nil {
		raw = m[1]
	} else if i, j := strings.Index(resp, "{"), strings.LastIndex(resp, "}"); i >= 0 && j > i {
		raw = resp[i : j+1]
	}
	if raw == "" {
		return nil, errNoJSON
	}
	var mr modelResponse
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		return nil, fmt.Errorf("extractor: decode model response: %w", err)
	}

	ext := &Extraction{Delta: &story.Delta{Chapter: chapter}}
	for _, mm := range mr.Memories {
		content := strings.TrimSpace(mm.Content)
		if content == "" {
			continue
		}
		typ, err := memory.ParseMemoryType(mm.MemoryType)
		if err != nil {
			if lt, ok := legacyTypes[strings.ToLower(strings.TrimSpace(mm.MemoryType))]; ok {
				typ = lt
			} else {
				typ = memory.TypePlotDevelopment
			}
		}
		importance := 0.5
		if mm.Importance != nil {
			importance = *mm.Importance
		}
		keywords := mm.Keywords
		if len(keywords) == 0 {
			keywords = mm.Tags
		}
		ext.Statements = append(ext.Statements, Statement{
			Content:    content,
			Type:       typ,
			Importance: round2(clamp01(importance)),
			Characters: mm.Characters,
			Keywords:   keywords,
		})
	}
	if len(ext.Statements) == 0 {
		return nil, fmt.Errorf("extractor: model returned no memories")
	}

	for _, c := range mr.Characters {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		u := story.CharacterUpdate{Name: c.Name, AddTraits: c.Traits, Relationships: c.Relationships, Status: c.Status}
		if r := story.Role(strings.ToLower(c.Role)); r.Valid() {
			u.Role = r
		}
		ext.Delta.Characters = append(ext.Delta.Characters, u)
	}
	for _, f := range mr.WorldFacts {
		if strings.TrimSpace(f.Element) == "" {
			continue
		}
		wf := &story.WorldFact{Element: f.Element, Description: f.Description, ConsistencyRules: f.ConsistencyRules}
		if c := story.FactCategory(strings.ToLower(f.Category)); c.Valid() {
			wf.Category = c
		}
		if i := story.FactImportance(strings.ToLower(f.Importance)); i.Valid() {
			wf.Importance = i
		}
		ext.Delta.WorldFacts = append(ext.Delta.WorldFacts, wf)
	}
	for _, t := range mr.Threads {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		u := story.ThreadUpdate{Name: t.Name, Description: t.Description, Progress: clamp01(t.Progress)}
		if s := story.ThreadStatus(strings.ToLower(t.Status)); s.Valid() {
			u.Status = s
		}
		ext.Delta.Threads = append(ext.Delta.Threads, u)
	}
	return ext, nil
}
