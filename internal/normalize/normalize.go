// Package normalize implements the disfluency normalizer: a deterministic,
// idempotent text filter applied to every turn before entity extraction.
//
// It strips three kinds of transcription noise:
//
//   - bracketed noise markers such as [noise], [inaudible], [cough];
//   - filler tokens with no propositional content ("um", "uh", "you know");
//   - transcription artifacts: ellipses, intra-word hyphens ("pro-pran-o-lol"
//     → "propranolol"), doubled punctuation, and stray whitespace.
//
// Correction markers ("no", "wait", "I mean") are NOT touched here — they
// carry meaning for the self-correction resolver downstream and must
// survive normalization intact.
package normalize

import (
	"regexp"
	"strings"
)

// DefaultFillers is the filler lexicon used when none is configured.
// Deliberately excludes phrases that double as correction markers.
var DefaultFillers = []string{
	"um", "uh", "er", "ah", "like", "you know",
	"sort of", "kind of", "kinda", "basically",
}

var (
	noisePattern      = regexp.MustCompile(`\[(?:noise|inaudible|unclear|cough|pause)\]`)
	ellipsisPattern   = regexp.MustCompile(`\.{2,}`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
	spacePunctPattern = regexp.MustCompile(`\s+([,.?!])`)
	multiCommaPattern = regexp.MustCompile(`,+`)
	commaPunctPattern = regexp.MustCompile(`,([.?!])`)
)

// Result carries the normalized text together with a record of what was
// removed, so the orchestrator can preserve it in the turn's audit trail.
type Result struct {
	// Text is the normalized turn text.
	Text string

	// RemovedFillers lists each filler that was stripped, once per lexicon
	// entry regardless of occurrence count.
	RemovedFillers []string

	// NoiseRemoved is true when at least one bracketed noise marker was
	// stripped.
	NoiseRemoved bool
}

// Normalizer strips disfluencies and transcription noise. It is read-only
// after construction and safe for concurrent use.
type Normalizer struct {
	fillers []*fillerPattern
}

type fillerPattern struct {
	filler  string
	pattern *regexp.Regexp
}

// New returns a Normalizer using the given filler lexicon. An empty lexicon
// falls back to [DefaultFillers].
func New(fillers []string) *Normalizer {
	if len(fillers) == 0 {
		fillers = DefaultFillers
	}
	n := &Normalizer{}
	for _, f := range fillers {
		// Optional leading comma, the filler on word boundaries, optional
		// trailing comma or period. Mirrors how fillers are embedded in
		// real STT output: "I take, uh, metformin."
		p := regexp.MustCompile(`(?i),?\s*\b` + regexp.QuoteMeta(f) + `\b[,.]?\s*`)
		n.fillers = append(n.fillers, &fillerPattern{filler: f, pattern: p})
	}
	return n
}

// Normalize strips noise markers, fillers, and transcription artifacts from
// text. It is idempotent: Normalize(Normalize(x).Text) returns the same
// text with an empty removal record.
func (n *Normalizer) Normalize(text string) Result {
	res := Result{}

	if noisePattern.MatchString(text) {
		text = noisePattern.ReplaceAllString(text, "")
		res.NoiseRemoved = true
	}

	// Transcription artifacts before filler matching so that broken words
	// rejoin ("pro-pran-o-lol" → "propranolol") and ellipses do not glue a
	// filler to its neighbour.
	text = ellipsisPattern.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "-", "")

	for _, fp := range n.fillers {
		if fp.pattern.MatchString(text) {
			res.RemovedFillers = append(res.RemovedFillers, fp.filler)
			text = fp.pattern.ReplaceAllString(text, " ")
		}
	}

	res.Text = CleanWhitespace(text)
	return res
}

// CleanWhitespace collapses runs of whitespace, closes gaps before
// punctuation, and deduplicates commas and periods left behind by
// removals. The correction resolver applies it after every text rewrite
// so that token removal never leaves double spaces or dangling
// punctuation behind: a replacement's sentence-final period landing next
// to the sentence's own period must collapse to one.
func CleanWhitespace(text string) string {
	text = multiSpacePattern.ReplaceAllString(text, " ")
	text = spacePunctPattern.ReplaceAllString(text, "$1")
	text = multiCommaPattern.ReplaceAllString(text, ",")
	text = commaPunctPattern.ReplaceAllString(text, "$1")
	text = ellipsisPattern.ReplaceAllString(text, ".")
	return strings.TrimSpace(text)
}
