// Package resolve implements the self-correction resolver: it detects
// correction markers ("no, wait", "I mean") in normalized turn text and
// rewrites the turn so that the replacement supersedes the corrected
// content, while recording every rewrite as an auditable event.
//
// Resolution follows a fixed three-step policy. A correction with a type
// hint first targets the most recent entity of that type, searching the
// current turn before prior turns. When no type hint can be established,
// or no entity of the hinted type exists anywhere, the nearest preceding
// content token in the same turn is replaced instead. When neither step
// finds a target the marker is recorded as unresolved and the text is left
// untouched. No correction ever discards text silently: superseded and
// removed tokens stay in the token stream with their provenance, and each
// event carries the byte-level edits it performed.
package resolve

import (
	"sort"
	"strings"

	"github.com/hmorven/clarivox/internal/extract"
	"github.com/hmorven/clarivox/internal/normalize"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// DefaultMarkers is the correction-marker lexicon used when none is
// configured. Multi-word phrases match across token boundaries.
var DefaultMarkers = []string{
	"no", "wait", "sorry", "actually", "i mean", "i meant", "rather",
}

// DefaultStopwords lists tokens the preceding-token fallback skips over
// when searching for a replacement target.
var DefaultStopwords = []string{
	"a", "an", "the", "my", "your", "his", "her", "its", "our", "their",
	"i", "i'm", "i've", "you", "he", "she", "it", "it's", "we", "they",
	"this", "that", "these", "those",
	"is", "was", "are", "were", "am", "be", "been", "do", "did", "don't",
	"and", "but", "so", "to", "of", "in", "on", "at", "for", "with",
	"very", "really", "just",
}

// weakMarkers are markers that frequently occur as plain discourse
// ("No, I haven't"). At the start of a turn a weak marker on its own is
// not treated as a correction unless the trailing text contains an
// extracted entity.
var weakMarkers = map[string]struct{}{
	"no":       {},
	"actually": {},
}

// History gives the resolver read access to entities committed by prior
// turns. Implemented by the conversation state.
type History interface {
	// MostRecent returns the most recent prior entity of the given type.
	// Superseded entities are skipped unless includeSuperseded is set.
	MostRecent(typ dialogue.EntityType, includeSuperseded bool) (dialogue.Entity, bool)

	// MostRecentAny is [History.MostRecent] without the type filter.
	MostRecentAny(includeSuperseded bool) (dialogue.Entity, bool)
}

// Config controls marker detection and target search.
type Config struct {
	// Markers overrides [DefaultMarkers] when non-empty.
	Markers []string

	// Stopwords overrides [DefaultStopwords] when non-empty.
	Stopwords []string

	// SearchSuperseded lets target search consider entities that earlier
	// corrections already superseded. Off by default: a corrected mention
	// should not be corrected again.
	SearchSuperseded bool
}

// Resolver detects and resolves self-corrections. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	markers          [][]string
	stopwords        map[string]struct{}
	searchSuperseded bool
}

// New returns a Resolver for the given configuration.
func New(cfg Config) *Resolver {
	markers := cfg.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	stopwords := cfg.Stopwords
	if len(stopwords) == 0 {
		stopwords = DefaultStopwords
	}
	r := &Resolver{
		stopwords:        make(map[string]struct{}, len(stopwords)),
		searchSuperseded: cfg.SearchSuperseded,
	}
	for _, m := range markers {
		r.markers = append(r.markers, strings.Fields(strings.ToLower(m)))
	}
	for _, s := range stopwords {
		r.stopwords[strings.ToLower(s)] = struct{}{}
	}
	return r
}

// Input is one turn's worth of work for the resolver.
type Input struct {
	// TurnIndex is the turn's sequence index within the conversation.
	TurnIndex int

	// Text is the normalized, phonetically aligned turn text.
	Text string

	// Spans are the extracted entity spans with byte offsets into Text.
	Spans []extract.Span

	// History exposes entities committed by prior turns. May be nil.
	History History

	// NextEntityID allocates conversation-unique entity IDs. May be nil,
	// in which case IDs are turn-local.
	NextEntityID func() int

	// NextEventSeq allocates conversation-unique event sequence numbers.
	// May be nil.
	NextEventSeq func() int
}

// Output is the resolved turn.
type Output struct {
	// Cleaned is the turn text after all corrections were applied.
	Cleaned string

	// Tokens is the full token stream including removed and superseded
	// tokens, indexed by position.
	Tokens []dialogue.Token

	// Entities are the turn's entities after resolution, ordered by token
	// offset. Includes entities introduced by corrections.
	Entities []dialogue.Entity

	// Events are the correction events, in resolution order.
	Events []dialogue.CorrectionEvent

	// SupersededPrior maps prior-turn entity IDs to the IDs of the
	// entities that superseded them. The caller applies these to its
	// entity history when committing the turn.
	SupersededPrior map[int]int
}

// wtok is a working token during resolution.
type wtok struct {
	text string
	norm string
	prov dialogue.Provenance
}

func (t wtok) effective() bool {
	return t.prov == dialogue.TokenKept || t.prov == dialogue.TokenSubstituted
}

// went is a working entity. start/end are token indices, end exclusive.
type went struct {
	id           int
	typ          dialogue.EntityType
	surface      string
	start, end   int
	source       dialogue.EntitySource
	supersededBy int
}

// rstate carries the mutable state of one Resolve call.
type rstate struct {
	r       *Resolver
	turn    int
	toks    []wtok
	ents    []went
	history History
	nextID  func() int
	nextSeq func() int

	events          []dialogue.CorrectionEvent
	supersededPrior map[int]int
}

// Resolve runs marker detection and correction resolution over one turn.
func (r *Resolver) Resolve(in Input) Output {
	st := &rstate{
		r:               r,
		turn:            in.TurnIndex,
		history:         in.History,
		nextID:          in.NextEntityID,
		nextSeq:         in.NextEventSeq,
		supersededPrior: make(map[int]int),
	}
	if st.nextID == nil {
		st.nextID = counter()
	}
	if st.nextSeq == nil {
		st.nextSeq = counter()
	}

	st.toks = tokenize(in.Text)
	st.ents = mapSpans(in.Text, in.Spans, st.nextID)

	st.run()

	return st.output()
}

func counter() func() int {
	n := 0
	return func() int {
		n++
		return n
	}
}

// tokenize splits pre-normalized text on single spaces. Punctuation stays
// attached to its word; norms are lowercased with edge punctuation
// trimmed.
func tokenize(text string) []wtok {
	fields := strings.Fields(text)
	toks := make([]wtok, len(fields))
	for i, f := range fields {
		toks[i] = wtok{text: f, norm: normWord(f), prov: dialogue.TokenKept}
	}
	return toks
}

func normWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !isAlnum(r) && r != '\''
	}))
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

// mapSpans converts byte-offset spans into token-range entities. Spans are
// assumed non-overlapping and start-ordered, as produced by the extractor.
func mapSpans(text string, spans []extract.Span, nextID func() int) []went {
	type rng struct{ start, end int }
	offs := make([]rng, 0)
	pos := 0
	for _, f := range strings.Fields(text) {
		at := strings.Index(text[pos:], f) + pos
		offs = append(offs, rng{at, at + len(f)})
		pos = at + len(f)
	}

	ents := make([]went, 0, len(spans))
	for _, s := range spans {
		start, end := -1, -1
		for i, o := range offs {
			if o.end > s.Start && o.start < s.End {
				if start < 0 {
					start = i
				}
				end = i + 1
			}
		}
		if start < 0 {
			continue
		}
		ents = append(ents, went{
			id:      nextID(),
			typ:     s.Type,
			surface: s.Surface,
			start:   start,
			end:     end,
			source:  s.Source,
		})
	}
	return ents
}

// marker is one detected marker span: possibly several consecutive marker
// phrases merged ("no, wait, I mean").
type marker struct {
	start, end int // token range, end exclusive
	phrases    int
	strong     bool
	surface    string
}

// run scans left to right, resolving each valid marker against the
// incrementally updated turn state so that later corrections can target
// entities created by earlier ones.
func (st *rstate) run() {
	i := 0
	for i < len(st.toks) {
		n := st.markerLen(i)
		if n == 0 {
			i++
			continue
		}
		m := st.mergeMarkers(i, n)
		i = st.resolveMarker(m)
	}
}

// markerLen returns the token length of the longest marker phrase starting
// at i, or 0.
func (st *rstate) markerLen(i int) int {
	best := 0
	for _, phrase := range st.r.markers {
		if len(phrase) <= best || i+len(phrase) > len(st.toks) {
			continue
		}
		ok := true
		for j, w := range phrase {
			t := st.toks[i+j]
			if !t.effective() || t.norm != w {
				ok = false
				break
			}
		}
		if ok {
			best = len(phrase)
		}
	}
	return best
}

// mergeMarkers extends a marker match over consecutive marker phrases.
func (st *rstate) mergeMarkers(i, n int) marker {
	m := marker{start: i, end: i + n, phrases: 1, strong: st.strongPhrase(i, n)}
	for {
		k := st.markerLen(m.end)
		if k == 0 {
			break
		}
		if st.strongPhrase(m.end, k) {
			m.strong = true
		}
		m.end += k
		m.phrases++
	}
	parts := make([]string, 0, m.end-m.start)
	for _, t := range st.toks[m.start:m.end] {
		parts = append(parts, t.text)
	}
	_, trail := splitTrail(strings.Join(parts, " "))
	m.surface = strings.TrimSuffix(strings.Join(parts, " "), trail)
	return m
}

func (st *rstate) strongPhrase(i, n int) bool {
	norms := make([]string, n)
	for j := 0; j < n; j++ {
		norms[j] = st.toks[i+j].norm
	}
	_, weak := weakMarkers[strings.Join(norms, " ")]
	return !weak
}

// resolveMarker validates one marker span and applies the resolution
// policy. It returns the token index scanning should continue from.
func (st *rstate) resolveMarker(m marker) int {
	// A marker needs trailing replacement content to be a correction.
	replStart := -1
	for i := m.end; i < len(st.toks); i++ {
		if st.toks[i].norm != "" {
			replStart = i
			break
		}
	}
	if replStart < 0 {
		return m.end
	}

	replEnd := st.replacementEnd(replStart)
	re := st.entityIn(replStart, replEnd)
	if re >= 0 {
		// The replacement is the entity itself; trailing words after it
		// ("…Ibuprofen for it") stay in place.
		replStart, replEnd = st.ents[re].start, st.ents[re].end
	}

	// Turn-initial weak markers ("No, I haven't") are discourse, not
	// correction, unless the trailing text names an entity.
	if !st.contentBefore(m.start) && !m.strong && m.phrases == 1 && re < 0 {
		return m.end
	}

	hint := dialogue.EntityType("")
	switch {
	case re >= 0:
		hint = st.ents[re].typ
	default:
		if pe := st.entityBefore(m.start, ""); pe >= 0 {
			hint = st.ents[pe].typ
		} else if !st.contentBefore(m.start) && st.history != nil {
			if h, ok := st.history.MostRecentAny(st.r.searchSuperseded); ok {
				hint = h.Type
			}
		}
	}

	if hint != "" {
		if ti := st.entityBefore(m.start, hint); ti >= 0 {
			return st.correctEntity(m, ti, re, replStart, replEnd)
		}
		if st.history != nil {
			if prior, ok := st.history.MostRecent(hint, st.r.searchSuperseded); ok {
				return st.correctPrior(m, prior, re, hint, replStart, replEnd)
			}
		}
	}
	return st.correctToken(m, hint, re, replStart, replEnd)
}

// replacementEnd walks the replacement span from its first content token
// to the end of the sentence, stopping short of any further marker.
func (st *rstate) replacementEnd(replStart int) int {
	for i := replStart; i < len(st.toks); i++ {
		if i > replStart && st.markerLen(i) > 0 {
			return i
		}
		if t := strings.TrimRight(st.toks[i].text, `"')`); strings.HasSuffix(t, ".") ||
			strings.HasSuffix(t, "?") || strings.HasSuffix(t, "!") {
			return i + 1
		}
	}
	return len(st.toks)
}

// entityIn returns the index of the first entity starting within the token
// range, or -1.
func (st *rstate) entityIn(start, end int) int {
	best := -1
	for i, e := range st.ents {
		if e.start >= start && e.start < end && (best < 0 || e.start < st.ents[best].start) {
			best = i
		}
	}
	return best
}

// entityBefore returns the index of the nearest entity lying entirely
// before the token position, optionally filtered by type. Superseded
// entities are skipped unless the resolver searches them.
func (st *rstate) entityBefore(pos int, typ dialogue.EntityType) int {
	best := -1
	for i, e := range st.ents {
		if e.end > pos {
			continue
		}
		if typ != "" && e.typ != typ {
			continue
		}
		if e.supersededBy != 0 && !st.r.searchSuperseded {
			continue
		}
		if best < 0 || e.start > st.ents[best].start {
			best = i
		}
	}
	return best
}

// contentBefore reports whether any effective content token precedes pos.
func (st *rstate) contentBefore(pos int) bool {
	for i := 0; i < pos; i++ {
		if st.toks[i].effective() && st.toks[i].norm != "" {
			return true
		}
	}
	return false
}

// contentAfter reports whether any effective content token follows at or
// after pos.
func (st *rstate) contentAfter(pos int) bool {
	for i := pos; i < len(st.toks); i++ {
		if st.toks[i].effective() && st.toks[i].norm != "" {
			return true
		}
	}
	return false
}

// correctEntity resolves a same-turn entity target: the target's tokens
// are superseded, the replacement text is substituted in their place, and
// the marker plus the original replacement span are removed.
func (st *rstate) correctEntity(m marker, ti, re, replStart, replEnd int) int {
	target := st.ents[ti]
	pre, offs := st.render()

	replText, replTrail := st.replacementText(re, replStart, replEnd, offs, pre)

	targetTrail := trailOf(st.toks[target.end-1].text)
	tStart := offs[target.start].start
	tEnd := offs[target.end-1].start + len(coreOf(st.toks[target.end-1].text))
	if replTrail != "" {
		// The replacement carries sentence-final punctuation; the
		// target's own trailing punctuation would double up.
		tEnd = offs[target.end-1].end
		targetTrail = ""
	} else if strings.ContainsAny(targetTrail, "?!") && st.contentAfter(replEnd) {
		// The sentence continues past the substitution, so the
		// target's terminal punctuation no longer ends anything.
		tEnd = offs[target.end-1].end
		targetTrail = ""
	}

	edits := []dialogue.TextEdit{
		{Start: offs[m.start].start, End: offs[replEnd-1].start + len(coreOf(st.toks[replEnd-1].text))},
		{Start: tStart, End: tEnd, Text: replText},
	}

	newID := st.applyRewrite(target.start, target.end, m, replEnd, re, replText, replTrail, targetTrail, target.typ)
	st.ents[ti].supersededBy = newID

	st.events = append(st.events, dialogue.CorrectionEvent{
		Seq:          st.nextSeq(),
		Turn:         st.turn,
		Marker:       m.surface,
		Strategy:     dialogue.StrategySameTypeRecency,
		Original:     target.surface,
		Replacement:  replText,
		TargetEntity: target.id,
		NewEntity:    newID,
		Edits:        edits,
	})
	return st.afterRewrite(replEnd, replText, replTrail, targetTrail != "")
}

// correctPrior resolves a correction whose target lives in an earlier
// turn. Prior turns are final, so only the marker is removed from the
// current text; the replacement stays in place and the superseding is
// recorded against the entity history.
func (st *rstate) correctPrior(m marker, prior dialogue.Entity, re int, hint dialogue.EntityType, replStart, replEnd int) int {
	pre, offs := st.render()

	replText, _ := st.replacementText(re, replStart, replEnd, offs, pre)

	edits := []dialogue.TextEdit{
		{Start: offs[m.start].start, End: offs[m.end-1].end},
	}
	for i := m.start; i < m.end; i++ {
		st.toks[i].prov = dialogue.TokenRemoved
	}

	var newID int
	if re >= 0 {
		newID = st.ents[re].id
	} else {
		newID = st.nextID()
		st.ents = append(st.ents, went{
			id:      newID,
			typ:     hint,
			surface: replText,
			start:   replStart,
			end:     replEnd,
			source:  dialogue.SourceCorrection,
		})
	}
	st.supersededPrior[prior.ID] = newID

	st.events = append(st.events, dialogue.CorrectionEvent{
		Seq:          st.nextSeq(),
		Turn:         st.turn,
		Marker:       m.surface,
		Strategy:     dialogue.StrategySameTypeRecency,
		Original:     prior.Surface,
		Replacement:  replText,
		TargetEntity: prior.ID,
		NewEntity:    newID,
		Edits:        edits,
	})
	return replEnd
}

// correctToken is the preceding-token fallback: the nearest non-trivial
// effective token before the marker is replaced. With no such token the
// marker is recorded as unresolved and the text stays intact.
func (st *rstate) correctToken(m marker, hint dialogue.EntityType, re, replStart, replEnd int) int {
	t := -1
	for i := m.start - 1; i >= 0; i-- {
		tok := st.toks[i]
		if !tok.effective() || len(tok.norm) <= 1 {
			continue
		}
		if _, stop := st.r.stopwords[tok.norm]; stop {
			continue
		}
		t = i
		break
	}
	if t < 0 {
		st.events = append(st.events, dialogue.CorrectionEvent{
			Seq:      st.nextSeq(),
			Turn:     st.turn,
			Marker:   m.surface,
			Strategy: dialogue.StrategyUnresolved,
		})
		return m.end
	}

	pre, offs := st.render()
	replText, replTrail := st.replacementText(re, replStart, replEnd, offs, pre)

	original := coreOf(st.toks[t].text)
	tokTrail := trailOf(st.toks[t].text)
	tEnd := offs[t].start + len(original)
	if replTrail != "" {
		tEnd = offs[t].end
		tokTrail = ""
	} else if strings.ContainsAny(tokTrail, "?!") && st.contentAfter(replEnd) {
		// The sentence continues past the substitution, so the
		// target's terminal punctuation no longer ends anything.
		tEnd = offs[t].end
		tokTrail = ""
	}
	edits := []dialogue.TextEdit{
		{Start: offs[m.start].start, End: offs[replEnd-1].start + len(coreOf(st.toks[replEnd-1].text))},
		{Start: offs[t].start, End: tEnd, Text: replText},
	}
	newID := st.applyRewrite(t, t+1, m, replEnd, re, replText, replTrail, tokTrail, hint)

	st.events = append(st.events, dialogue.CorrectionEvent{
		Seq:         st.nextSeq(),
		Turn:        st.turn,
		Marker:      m.surface,
		Strategy:    dialogue.StrategyPrecedingToken,
		Original:    original,
		Replacement: replText,
		NewEntity:   newID,
		Edits:       edits,
	})
	return st.afterRewrite(replEnd, replText, replTrail, tokTrail != "")
}

// replacementText returns the replacement surface and any trailing
// punctuation it sheds. For an entity replacement the entity surface is
// used; otherwise the rendered replacement span minus its sentence-final
// punctuation.
func (st *rstate) replacementText(re, replStart, replEnd int, offs []brange, pre string) (string, string) {
	if re >= 0 {
		e := st.ents[re]
		_, trail := splitTrail(st.toks[e.end-1].text)
		return e.surface, trail
	}
	last := st.toks[replEnd-1].text
	core, trail := splitTrail(last)
	return pre[offs[replStart].start : offs[replEnd-1].start+len(core)], trail
}

// applyRewrite performs the token-level mutation shared by the entity and
// fallback strategies: supersede the target range, remove the marker
// through the replacement origin, and substitute the replacement text at
// the target position. It returns the ID of the entity now covering the
// substituted tokens: the relocated replacement entity when one existed,
// a freshly minted one when the correction had a type hint, zero
// otherwise.
func (st *rstate) applyRewrite(targetStart, targetEnd int, m marker, replEnd, re int, replText, replTrail, targetTrail string, hint dialogue.EntityType) int {
	for i := targetStart; i < targetEnd; i++ {
		st.toks[i].prov = dialogue.TokenSuperseded
	}
	for i := m.start; i < replEnd; i++ {
		st.toks[i].prov = dialogue.TokenRemoved
	}

	// Right to left so earlier indices stay valid.
	if replTrail != "" {
		st.insertTokens(replEnd, []wtok{{text: replTrail, prov: dialogue.TokenKept}})
	}
	sub := make([]wtok, 0)
	for _, w := range strings.Fields(replText) {
		sub = append(sub, wtok{text: w, norm: normWord(w), prov: dialogue.TokenSubstituted})
	}
	nsub := len(sub)
	if targetTrail != "" {
		sub = append(sub, wtok{text: targetTrail, prov: dialogue.TokenKept})
	}
	st.insertTokens(targetEnd, sub)

	if re >= 0 {
		st.ents[re].start = targetEnd
		st.ents[re].end = targetEnd + nsub
		return st.ents[re].id
	}
	if hint == "" || nsub == 0 {
		return 0
	}
	id := st.nextID()
	st.ents = append(st.ents, went{
		id:      id,
		typ:     hint,
		surface: replText,
		start:   targetEnd,
		end:     targetEnd + nsub,
		source:  dialogue.SourceCorrection,
	})
	return id
}

// insertTokens inserts toks at position at, shifting entity ranges.
func (st *rstate) insertTokens(at int, toks []wtok) {
	n := len(toks)
	st.toks = append(st.toks[:at], append(append([]wtok{}, toks...), st.toks[at:]...)...)
	for i := range st.ents {
		if st.ents[i].start >= at {
			st.ents[i].start += n
		}
		if st.ents[i].end > at {
			st.ents[i].end += n
		}
	}
}

// afterRewrite computes the scan resume index following a rewrite:
// everything through the replacement origin plus the tokens inserted
// before it.
func (st *rstate) afterRewrite(replEnd int, replText, replTrail string, targetTrail bool) int {
	shift := len(strings.Fields(replText))
	if replTrail != "" {
		shift++
	}
	if targetTrail {
		shift++
	}
	return replEnd + shift
}

// brange is a byte range within a rendered text.
type brange struct{ start, end int }

// render joins the effective tokens into the current turn text and
// returns, for every token index, its byte range within it. Non-effective
// tokens get a zero range.
func (st *rstate) render() (string, []brange) {
	var b strings.Builder
	offs := make([]brange, len(st.toks))
	for i, t := range st.toks {
		if !t.effective() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		offs[i] = brange{b.Len(), b.Len() + len(t.text)}
		b.WriteString(t.text)
	}
	return b.String(), offs
}

// output converts the working state into the final resolved turn.
func (st *rstate) output() Output {
	out := Output{SupersededPrior: st.supersededPrior, Events: st.events}

	text, _ := st.render()
	out.Cleaned = normalize.CleanWhitespace(text)

	out.Tokens = make([]dialogue.Token, len(st.toks))
	for i, t := range st.toks {
		out.Tokens[i] = dialogue.Token{Text: t.text, Norm: t.norm, Index: i, Provenance: t.prov}
	}

	sort.SliceStable(st.ents, func(i, j int) bool { return st.ents[i].start < st.ents[j].start })
	out.Entities = make([]dialogue.Entity, len(st.ents))
	for i, e := range st.ents {
		out.Entities[i] = dialogue.Entity{
			ID:           e.id,
			Type:         e.typ,
			Surface:      e.surface,
			StartToken:   e.start,
			EndToken:     e.end,
			Turn:         st.turn,
			Source:       e.source,
			SupersededBy: e.supersededBy,
		}
	}
	return out
}

// coreOf strips trailing punctuation from a token surface.
func coreOf(w string) string {
	core, _ := splitTrail(w)
	return core
}

// trailOf returns only the trailing punctuation of a token surface.
func trailOf(w string) string {
	_, trail := splitTrail(w)
	return trail
}

// splitTrail splits a token surface into its core and any trailing
// punctuation run.
func splitTrail(w string) (core, trail string) {
	i := len(w)
	for i > 0 {
		c := w[i-1]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			break
		}
		i--
	}
	return w[:i], w[i:]
}
