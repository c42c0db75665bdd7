// Package rulebased implements a deterministic, lexicon-driven
// [ner.Recognizer].
//
// The recognizer is configured with labeled term lists (single words or
// multi-word phrases) and matches them case-insensitively on word
// boundaries. At each token position the longest matching phrase wins, so
// "chest pain" is labeled as one span rather than "chest" alone.
//
// It runs entirely in-process with no model, no network calls, and no
// cross-call state: identical input always yields identical output. It is
// the default recognizer and the baseline the pipeline degrades to when an
// external backend is unavailable.
package rulebased

import (
	"context"
	"strings"
	"unicode"

	"github.com/hmorven/clarivox/pkg/provider/ner"
)

// Compile-time assertion that Recognizer satisfies ner.Recognizer.
var _ ner.Recognizer = (*Recognizer)(nil)

// Recognizer matches labeled term lists against text. It is read-only after
// construction and safe for concurrent use.
type Recognizer struct {
	// phrases maps a lowercase space-joined phrase to its label.
	phrases map[string]string

	// maxWords is the longest phrase length in words.
	maxWords int
}

// New builds a Recognizer from labeled term lists. terms maps a label
// (e.g., "MEDICATION") to the words and phrases that carry it. Terms are
// matched case-insensitively; when two labels claim the same term, the
// label that sorts first by insertion order of iteration is unspecified, so
// callers should keep term lists disjoint.
func New(terms map[string][]string) *Recognizer {
	r := &Recognizer{
		phrases:  make(map[string]string),
		maxWords: 1,
	}
	for label, list := range terms {
		for _, term := range list {
			key := strings.ToLower(strings.Join(strings.Fields(term), " "))
			if key == "" {
				continue
			}
			r.phrases[key] = label
			if n := len(strings.Fields(key)); n > r.maxWords {
				r.maxWords = n
			}
		}
	}
	return r
}

// word is a whitespace-separated token with the byte offsets of its
// punctuation-trimmed core.
type word struct {
	norm  string
	start int
	end   int
}

// Recognize implements ner.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]ner.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := splitWords(text)
	var spans []ner.Span

	i := 0
	for i < len(words) {
		maxN := r.maxWords
		if i+maxN > len(words) {
			maxN = len(words) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			key := joinNorms(words[i : i+n])
			label, ok := r.phrases[key]
			if !ok {
				continue
			}
			start := words[i].start
			end := words[i+n-1].end
			spans = append(spans, ner.Span{
				Label:   label,
				Start:   start,
				End:     end,
				Surface: text[start:end],
			})
			i += n
			matched = true
			break
		}
		if !matched {
			i++
		}
	}

	return spans, nil
}

// splitWords tokenizes text into whitespace-separated words, recording the
// byte offsets of each word's core after trimming surrounding punctuation.
// Words that are pure punctuation are dropped.
func splitWords(text string) []word {
	var words []word
	i := 0
	for i < len(text) {
		// Skip whitespace.
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		start := i
		for i < len(text) && !isSpace(text[i]) {
			i++
		}
		if w, ok := trimWord(text, start, i); ok {
			words = append(words, w)
		}
	}
	return words
}

// trimWord trims non-letter, non-digit runes from both ends of
// text[start:end] and returns the resulting word. ok is false when nothing
// remains.
func trimWord(text string, start, end int) (word, bool) {
	for start < end && !isWordByte(text[start]) {
		start++
	}
	for end > start && !isWordByte(text[end-1]) {
		end--
	}
	if start >= end {
		return word{}, false
	}
	return word{
		norm:  strings.ToLower(text[start:end]),
		start: start,
		end:   end,
	}, true
}

// isWordByte reports whether b belongs to a word core. Apostrophes are kept
// so contractions like "can't" match as one token.
func isWordByte(b byte) bool {
	if b == '\'' || b >= 0x80 {
		return true
	}
	return unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// joinNorms joins the normalized forms of words with single spaces.
func joinNorms(ws []word) string {
	if len(ws) == 1 {
		return ws[0].norm
	}
	var sb strings.Builder
	for i, w := range ws {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w.norm)
	}
	return sb.String()
}
