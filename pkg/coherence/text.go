package coherence

import (
	"strings"

	"github.com/storyloom/storyloom/pkg/textutil"
)

// document is content lower-cased and split for the sentence-level checks.
type document struct {
	lower     string
	sentences []string
}

func newDocument(content string) *document {
	lower := strings.ToLower(content)
	return &document{lower: lower, sentences: textutil.SplitSentences(lower)}
}

// mentions reports whether phrase occurs as whole words.
func (d *document) mentions(phrase string) bool {
	return textutil.ContainsWord(d.lower, strings.ToLower(phrase))
}

// sentencesWith returns the sentences naming phrase.
func (d *document) sentencesWith(phrase string) []string {
	phrase = strings.ToLower(phrase)
	var out []string
	for _, s := range d.sentences {
		if textutil.ContainsWord(s, phrase) {
			out = append(out, s)
		}
	}
	return out
}
