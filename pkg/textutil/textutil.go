// Package textutil holds the small text primitives shared by the coherence
// checks and the heuristic extractor.
package textutil

import (
	"strings"
	"unicode"
)

// SplitSentences splits s on sentence punctuation and newlines and drops
// empty pieces. Case is preserved.
func SplitSentences(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			return true
		}
		return false
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContainsWord finds phrase in s bounded by non-letters on both sides. Both
// arguments are compared as given; callers lower-case them.
func ContainsWord(s, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		from = start + 1
	}
}

// IndexWord is like ContainsWord but returns the byte offset, or -1.
func IndexWord(s, phrase string) int {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return -1
	}
	for from := 0; ; {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return -1
		}
		start := from + i
		if boundaryBefore(s, start) && boundaryAfter(s, start+len(phrase)) {
			return start
		}
		from = start + 1
	}
}

// ContainsAny reports whether any of words occurs in s as a whole word.
func ContainsAny(s string, words []string) bool {
	for _, w := range words {
		if ContainsWord(s, w) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	rs := []rune(s[:i])
	return !isWordRune(rs[len(rs)-1])
}

func boundaryAfter(s string, i int) bool {
	for _, r := range s[i:] {
		return !isWordRune(r)
	}
	return true
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "with": {}, "from": {}, "into": {}, "this": {},
	"they": {}, "them": {}, "their": {}, "there": {}, "have": {}, "were": {}, "will": {},
	"what": {}, "when": {}, "then": {}, "than": {}, "been": {}, "your": {}, "about": {},
	"which": {}, "while": {}, "would": {}, "could": {}, "should": {}, "where": {},
}

// SignificantWords returns the lower-cased words of s that are at least four
// runes long and not stop words, in order of appearance.
func SignificantWords(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r) && r != '\''
	})
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Truncate shortens s to n runes, marking the cut.
func Truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
