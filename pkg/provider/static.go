package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder is a deterministic offline embedder. Each lower-cased word is
// hashed into one of Dimension buckets with a hashed sign; the result is L2
// normalized, so texts sharing vocabulary land close to each other.
type HashEmbedder struct {
	Dimension int
}

var _ Embedder = HashEmbedder{}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Dimension <= 0 {
		return nil, fmt.Errorf("provider: invalid dimension %d", h.Dimension)
	}
	vec := make([]float32, h.Dimension)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		f := fnv.New64a()
		f.Write([]byte(word))
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dimension))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// StaticCompleter replays scripted responses in order and then falls back to
// a templated chapter built from the prompt. It backs the offline CLI mode
// and tests.
type StaticCompleter struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// ChoiceMarker prefixes the prompt line that carries the player choice.
	ChoiceMarker string
}

var _ Completer = (*StaticCompleter)(nil)

// NewStaticCompleter creates a completer that returns responses first.
func NewStaticCompleter(responses ...string) *StaticCompleter {
	return &StaticCompleter{responses: responses, ChoiceMarker: "Player choice:"}
}

func (s *StaticCompleter) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.responses) > 0 {
		r := s.responses[0]
		s.responses = s.responses[1:]
		return r, nil
	}
	return s.template(prompt), nil
}

// Calls returns how many completions were served.
func (s *StaticCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticCompleter) template(prompt string) string {
	choice := "the path ahead"
	for _, line := range strings.Split(prompt, "\n") {
		if s.ChoiceMarker != "" && strings.HasPrefix(strings.TrimSpace(line), s.ChoiceMarker) {
			choice = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), s.ChoiceMarker))
			break
		}
	}
	out := map[string]any{
		"content":      fmt.Sprintf("Having chosen %s, the journey continued. Old promises weighed on every step, and the road bent toward what had been set in motion.", choice),
		"summary":      "The story advanced after choosing " + choice + ".",
		"key_elements": []string{choice},
		"mood":         "steady",
		"choice_setup": "A new fork appears on the road.",
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return "```json\n" + string(data) + "\n```"
}
