package extract

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hmorven/clarivox/pkg/dialogue"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minPhoneticLen guards short function words from being phonetically
	// aligned onto gazetteer terms.
	minPhoneticLen = 4
)

// GazetteerOption is a functional option for configuring a [Gazetteer].
type GazetteerOption func(*Gazetteer)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) GazetteerOption {
	return func(g *Gazetteer) {
		g.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) GazetteerOption {
	return func(g *Gazetteer) {
		g.fuzzyThreshold = threshold
	}
}

// term is a single prepared gazetteer entry.
type term struct {
	canonical string
	norm      string
	typ       dialogue.EntityType
	codes     map[string]struct{}
	words     int
}

// Gazetteer is the domain term list: medications, symptoms, body parts, and
// conditions, with canonical spellings. It supports exact phrase lookup and
// phonetic alignment of misheard surface forms (Double Metaphone candidate
// filtering ranked by Jaro-Winkler similarity).
//
// A Gazetteer is read-only after construction and safe for concurrent use.
type Gazetteer struct {
	terms    []term
	exact    map[string]int // norm → index into terms
	maxWords int

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewGazetteer builds a Gazetteer from per-type term lists. Terms are
// matched case-insensitively; multi-word phrases are supported.
func NewGazetteer(lists map[dialogue.EntityType][]string, opts ...GazetteerOption) *Gazetteer {
	g := &Gazetteer{
		exact:             make(map[string]int),
		maxWords:          1,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for typ, list := range lists {
		for _, raw := range list {
			norm := strings.ToLower(strings.Join(strings.Fields(raw), " "))
			if norm == "" {
				continue
			}
			if _, dup := g.exact[norm]; dup {
				continue
			}
			t := term{
				canonical: strings.Join(strings.Fields(raw), " "),
				norm:      norm,
				typ:       typ,
				codes:     codesForTokens(strings.Fields(norm)),
				words:     len(strings.Fields(norm)),
			}
			g.terms = append(g.terms, t)
			g.exact[norm] = len(g.terms) - 1
			if t.words > g.maxWords {
				g.maxWords = t.words
			}
		}
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// LookupExact returns the entity type of an exact (case-insensitive)
// gazetteer term. The safety engine uses it to check whether a phrase
// names a known medication.
func (g *Gazetteer) LookupExact(phrase string) (dialogue.EntityType, bool) {
	norm := strings.ToLower(strings.Join(strings.Fields(phrase), " "))
	idx, ok := g.exact[norm]
	if !ok {
		return "", false
	}
	return g.terms[idx].typ, true
}

// Align rewrites misheard words in text to their canonical gazetteer
// spelling and reports each rewrite. Exact matches are left untouched —
// only phonetically or fuzzily similar windows are aligned.
//
// The scan mirrors the n-gram window strategy of the exact matcher: at each
// token position windows from the longest gazetteer phrase down to a single
// word are tested, and the longest accepted window wins.
func (g *Gazetteer) Align(text string) (string, []dialogue.PhoneticFix) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(g.terms) == 0 {
		return text, nil
	}

	var output []string
	var fixes []dialogue.PhoneticFix

	i := 0
	for i < len(tokens) {
		maxN := g.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			canonical, conf, ok := g.matchPhonetic(window)
			if !ok {
				continue
			}

			// Preserve trailing punctuation of the window's last token.
			core, trail := splitTrailingPunct(window)
			if strings.EqualFold(core, canonical) {
				// Already canonical; nothing to align.
				break
			}

			output = append(output, canonical+trail)
			fixes = append(fixes, dialogue.PhoneticFix{
				Original:   core,
				Canonical:  canonical,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	if len(fixes) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), fixes
}

// Match is a gazetteer term located in a piece of text.
type Match struct {
	Type    dialogue.EntityType
	Start   int
	End     int
	Surface string
}

// Find returns every exact gazetteer match in text with byte offsets,
// ordered by start. At each position the longest matching phrase wins.
func (g *Gazetteer) Find(text string) []Match {
	words := offsetWords(text)
	var matches []Match

	i := 0
	for i < len(words) {
		maxN := g.maxWords
		if i+maxN > len(words) {
			maxN = len(words) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			key := joinWordNorms(words[i : i+n])
			idx, ok := g.exact[key]
			if !ok {
				continue
			}
			start := words[i].start
			end := words[i+n-1].end
			matches = append(matches, Match{
				Type:    g.terms[idx].typ,
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

	return matches
}

// offsetWord is a whitespace-separated token with the byte offsets of its
// punctuation-trimmed core.
type offsetWord struct {
	norm  string
	start int
	end   int
}

// offsetWords tokenizes text into words with core byte offsets, dropping
// pure-punctuation tokens.
func offsetWords(text string) []offsetWord {
	var words []offsetWord
	i := 0
	for i < len(text) {
		for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
			i++
		}
		if i >= len(text) {
			break
		}
		start := i
		for i < len(text) && text[i] != ' ' && text[i] != '\t' && text[i] != '\n' && text[i] != '\r' {
			i++
		}
		ws, we := start, i
		for ws < we && !isWordChar(text[ws]) {
			ws++
		}
		for we > ws && !isWordChar(text[we-1]) {
			we--
		}
		if ws < we {
			words = append(words, offsetWord{
				norm:  strings.ToLower(text[ws:we]),
				start: ws,
				end:   we,
			})
		}
	}
	return words
}

// isWordChar reports whether b belongs to a word core. Apostrophes are kept
// so contractions like "can't" stay one token.
func isWordChar(b byte) bool {
	return b == '\'' || b >= 0x80 ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func joinWordNorms(ws []offsetWord) string {
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

// matchPhonetic finds the gazetteer term most similar to window, using
// Double Metaphone overlap as a candidate filter and Jaro-Winkler for
// ranking. When no phonetic candidate clears the threshold, a stricter pure
// Jaro-Winkler fallback is tried against all terms.
func (g *Gazetteer) matchPhonetic(window string) (canonical string, confidence float64, matched bool) {
	core, _ := splitTrailingPunct(window)
	norm := strings.ToLower(strings.TrimSpace(core))
	if len(norm) < minPhoneticLen {
		return "", 0, false
	}

	// Exact terms match with full confidence without any similarity math.
	if idx, ok := g.exact[norm]; ok {
		return g.terms[idx].canonical, 1.0, true
	}

	normTokens := strings.Fields(norm)
	inputCodes := codesForTokens(normTokens)

	type candidate struct {
		canonical string
		score     float64
		phonetic  bool
	}
	var best candidate

	for _, t := range g.terms {
		// Only terms with the same word count are candidates: a window that
		// merely contains a term word ("take aspirin" vs "aspirin") must not
		// be rewritten, or the surrounding words would be swallowed.
		if t.words != len(normTokens) {
			continue
		}
		phoneticMatch := codesOverlap(inputCodes, t.codes)
		jwScore := bestJWScore(normTokens, strings.Fields(t.norm), norm, t.norm)

		if phoneticMatch {
			if jwScore >= g.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{canonical: t.canonical, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= g.fuzzyThreshold && jwScore > best.score {
				best = candidate{canonical: t.canonical, score: jwScore, phonetic: false}
			}
		}
	}

	if best.canonical != "" {
		return best.canonical, best.score, true
	}
	return "", 0, false
}

// splitTrailingPunct splits a token window into its core and any trailing
// punctuation run ("propanol?" → "propanol", "?").
func splitTrailingPunct(s string) (core, trail string) {
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if c == '.' || c == ',' || c == '?' || c == '!' || c == ';' || c == ':' {
			end--
			continue
		}
		break
	}
	return s[:end], s[end:]
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// input and the term using two strategies:
//
//  1. Full-string comparison ("chest pane" vs "chest pain").
//  2. Space-stripped comparison ("chestpane" vs "chestpain"), which
//     tolerates word-boundary disagreements between the transcript and
//     the gazetteer.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	return score
}
