package resolve_test

import (
	"strings"
	"testing"

	"github.com/hmorven/clarivox/internal/extract"
	"github.com/hmorven/clarivox/internal/normalize"
	"github.com/hmorven/clarivox/internal/resolve"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// fakeHistory serves entities from a fixed slice, most recent last.
type fakeHistory struct {
	entities []dialogue.Entity
}

func (h *fakeHistory) MostRecent(typ dialogue.EntityType, includeSuperseded bool) (dialogue.Entity, bool) {
	for i := len(h.entities) - 1; i >= 0; i-- {
		e := h.entities[i]
		if e.Type != typ {
			continue
		}
		if e.Superseded() && !includeSuperseded {
			continue
		}
		return e, true
	}
	return dialogue.Entity{}, false
}

func (h *fakeHistory) MostRecentAny(includeSuperseded bool) (dialogue.Entity, bool) {
	for i := len(h.entities) - 1; i >= 0; i-- {
		e := h.entities[i]
		if e.Superseded() && !includeSuperseded {
			continue
		}
		return e, true
	}
	return dialogue.Entity{}, false
}

// spanOf builds an extractor span for the first occurrence of surface in
// text.
func spanOf(text, surface string, typ dialogue.EntityType) extract.Span {
	at := strings.Index(text, surface)
	if at < 0 {
		panic("surface not in text: " + surface)
	}
	return extract.Span{
		Type:    typ,
		Start:   at,
		End:     at + len(surface),
		Surface: surface,
		Source:  dialogue.SourceGazetteer,
	}
}

// replay applies every event's edits over the normalized turn text,
// re-canonicalizing spacing between events, and returns the cleaned text.
func replay(text string, events []dialogue.CorrectionEvent) string {
	for _, ev := range events {
		for _, e := range ev.Edits {
			text = text[:e.Start] + e.Text + text[e.End:]
		}
		text = strings.Join(strings.Fields(text), " ")
	}
	return normalize.CleanWhitespace(text)
}

func countProvenance(tokens []dialogue.Token, p dialogue.Provenance) int {
	n := 0
	for _, t := range tokens {
		if t.Provenance == p {
			n++
		}
	}
	return n
}

// --- Same-turn entity correction ---

func TestResolve_SameTypeRecencySameTurn(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "I take Glucophage, no wait, Ibuprofen for it."
	out := r.Resolve(resolve.Input{
		Text: text,
		Spans: []extract.Span{
			spanOf(text, "Glucophage", dialogue.EntityMedication),
			spanOf(text, "Ibuprofen", dialogue.EntityMedication),
		},
	})

	if want := "I take Ibuprofen, for it."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	ev := out.Events[0]
	if ev.Strategy != dialogue.StrategySameTypeRecency {
		t.Errorf("Strategy=%q, want %q", ev.Strategy, dialogue.StrategySameTypeRecency)
	}
	if ev.Original != "Glucophage" || ev.Replacement != "Ibuprofen" {
		t.Errorf("Original=%q Replacement=%q, want Glucophage/Ibuprofen", ev.Original, ev.Replacement)
	}
	if ev.Marker != "no wait" {
		t.Errorf("Marker=%q, want %q", ev.Marker, "no wait")
	}

	var target dialogue.Entity
	for _, e := range out.Entities {
		if e.Surface == "Glucophage" {
			target = e
		}
	}
	if !target.Superseded() {
		t.Error("Glucophage entity not superseded")
	}
	if target.SupersededBy != ev.NewEntity {
		t.Errorf("SupersededBy=%d, want %d", target.SupersededBy, ev.NewEntity)
	}

	if got := countProvenance(out.Tokens, dialogue.TokenSuperseded); got != 1 {
		t.Errorf("superseded tokens=%d, want 1", got)
	}
	if got := countProvenance(out.Tokens, dialogue.TokenRemoved); got == 0 {
		t.Error("no removed tokens recorded for the marker span")
	}
	if got := countProvenance(out.Tokens, dialogue.TokenSubstituted); got != 1 {
		t.Errorf("substituted tokens=%d, want 1", got)
	}

	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

func TestResolve_TargetQuestionMarkDroppedMidSentence(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "I take propanol? No, propranolol for the shakes."
	out := r.Resolve(resolve.Input{
		Text: text,
		Spans: []extract.Span{
			spanOf(text, "propanol", dialogue.EntityMedication),
			spanOf(text, "propranolol", dialogue.EntityMedication),
		},
	})

	// The substitution leaves the target mid-sentence, so its stray "?"
	// is dropped rather than stranded before "for the shakes".
	if want := "I take propranolol for the shakes."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	if ev := out.Events[0]; ev.Original != "propanol" || ev.Replacement != "propranolol" {
		t.Errorf("Original=%q Replacement=%q, want propanol/propranolol", ev.Original, ev.Replacement)
	}
	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

func TestResolve_TargetQuestionMarkKeptAtSentenceEnd(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "Was it propanol? No wait propranolol"
	out := r.Resolve(resolve.Input{
		Text: text,
		Spans: []extract.Span{
			spanOf(text, "propanol", dialogue.EntityMedication),
			spanOf(text, "propranolol", dialogue.EntityMedication),
		},
	})

	if want := "Was it propranolol?"; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

// --- Cross-turn recency ---

func TestResolve_CrossTurnRecency(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{entities: []dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "aspirin", Turn: 0},
		{ID: 2, Type: dialogue.EntityMedication, Surface: "ibuprofen", Turn: 1},
	}}

	r := resolve.New(resolve.Config{})
	text := "No, wait, I meant the other one."
	out := r.Resolve(resolve.Input{
		TurnIndex: 2,
		Text:      text,
		History:   history,
	})

	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	ev := out.Events[0]
	if ev.Strategy != dialogue.StrategySameTypeRecency {
		t.Fatalf("Strategy=%q, want %q", ev.Strategy, dialogue.StrategySameTypeRecency)
	}
	// Recency: the most recent medication is superseded, not the first.
	if ev.TargetEntity != 2 {
		t.Errorf("TargetEntity=%d, want 2 (ibuprofen)", ev.TargetEntity)
	}
	if ev.Original != "ibuprofen" {
		t.Errorf("Original=%q, want %q", ev.Original, "ibuprofen")
	}

	newID, ok := out.SupersededPrior[2]
	if !ok {
		t.Fatal("SupersededPrior has no entry for entity 2")
	}
	if newID != ev.NewEntity {
		t.Errorf("SupersededPrior[2]=%d, want %d", newID, ev.NewEntity)
	}

	var created *dialogue.Entity
	for i, e := range out.Entities {
		if e.ID == newID {
			created = &out.Entities[i]
		}
	}
	if created == nil {
		t.Fatal("superseding entity missing from turn entities")
	}
	if created.Type != dialogue.EntityMedication {
		t.Errorf("created Type=%q, want %q", created.Type, dialogue.EntityMedication)
	}
	if created.Source != dialogue.SourceCorrection {
		t.Errorf("created Source=%q, want %q", created.Source, dialogue.SourceCorrection)
	}

	// Prior turns are final: only the marker leaves the current text.
	if want := "the other one."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

// --- Preceding-token fallback ---

func TestResolve_PrecedingTokenFallback(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "I feel exhausted, no, actually, tired."
	out := r.Resolve(resolve.Input{Text: text})

	if want := "I feel tired."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	ev := out.Events[0]
	if ev.Strategy != dialogue.StrategyPrecedingToken {
		t.Errorf("Strategy=%q, want %q", ev.Strategy, dialogue.StrategyPrecedingToken)
	}
	if ev.Original != "exhausted" || ev.Replacement != "tired" {
		t.Errorf("Original=%q Replacement=%q, want exhausted/tired", ev.Original, ev.Replacement)
	}
	if ev.NewEntity != 0 {
		t.Errorf("NewEntity=%d, want 0 (no type hint, no entity minted)", ev.NewEntity)
	}
	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

// --- Unresolved ---

func TestResolve_UnresolvedAtTranscriptStart(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "No, wait, ibuprofen."
	out := r.Resolve(resolve.Input{
		Text:  text,
		Spans: []extract.Span{spanOf(text, "ibuprofen", dialogue.EntityMedication)},
	})

	// Nothing to correct, so the text must survive untouched.
	if out.Cleaned != text {
		t.Errorf("Cleaned=%q, want original %q", out.Cleaned, text)
	}
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	ev := out.Events[0]
	if ev.Strategy != dialogue.StrategyUnresolved {
		t.Errorf("Strategy=%q, want %q", ev.Strategy, dialogue.StrategyUnresolved)
	}
	if len(ev.Edits) != 0 {
		t.Errorf("unresolved event has %d edits, want 0", len(ev.Edits))
	}
	for _, e := range out.Entities {
		if e.Superseded() {
			t.Errorf("entity %q superseded by unresolved correction", e.Surface)
		}
	}
	for _, tok := range out.Tokens {
		if tok.Provenance != dialogue.TokenKept {
			t.Errorf("token %q provenance=%q, want kept", tok.Text, tok.Provenance)
		}
	}
}

// --- Discourse "no" ---

func TestResolve_TurnInitialNoIsDiscourse(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{entities: []dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "metformin", Turn: 0},
	}}

	r := resolve.New(resolve.Config{})
	text := "No, I don't smoke."
	out := r.Resolve(resolve.Input{TurnIndex: 1, Text: text, History: history})

	if len(out.Events) != 0 {
		t.Fatalf("got %d events, want 0: a plain denial is not a correction", len(out.Events))
	}
	if out.Cleaned != text {
		t.Errorf("Cleaned=%q, want original %q", out.Cleaned, text)
	}
	if len(out.SupersededPrior) != 0 {
		t.Errorf("SupersededPrior=%v, want empty", out.SupersededPrior)
	}
}

// --- Chained corrections within one turn ---

func TestResolve_ChainedCorrections(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "I take aspirin, no wait, Tylenol, I mean Advil."
	out := r.Resolve(resolve.Input{
		Text: text,
		Spans: []extract.Span{
			spanOf(text, "aspirin", dialogue.EntityMedication),
			spanOf(text, "Tylenol", dialogue.EntityMedication),
			spanOf(text, "Advil", dialogue.EntityMedication),
		},
	})

	if want := "I take Advil."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	if len(out.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(out.Events))
	}

	first, second := out.Events[0], out.Events[1]
	if first.Original != "aspirin" || first.Replacement != "Tylenol" {
		t.Errorf("first event %q→%q, want aspirin→Tylenol", first.Original, first.Replacement)
	}
	// The second correction must target the entity the first one produced.
	if second.Original != "Tylenol" || second.Replacement != "Advil" {
		t.Errorf("second event %q→%q, want Tylenol→Advil", second.Original, second.Replacement)
	}
	if second.TargetEntity != first.NewEntity {
		t.Errorf("second target=%d, want first new entity %d", second.TargetEntity, first.NewEntity)
	}
	if second.Seq <= first.Seq {
		t.Errorf("event seqs not increasing: %d then %d", first.Seq, second.Seq)
	}

	if got := replay(text, out.Events); got != out.Cleaned {
		t.Errorf("replay=%q, want %q", got, out.Cleaned)
	}
}

// --- Superseded entities stay out of target search ---

func TestResolve_SupersededExcludedFromSearch(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{entities: []dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "aspirin", Turn: 0, SupersededBy: 2},
		{ID: 2, Type: dialogue.EntityMedication, Surface: "ibuprofen", Turn: 0},
	}}

	text := "No, wait, I meant naproxen."
	span := spanOf(text, "naproxen", dialogue.EntityMedication)

	r := resolve.New(resolve.Config{})
	out := r.Resolve(resolve.Input{
		TurnIndex: 1,
		Text:      text,
		Spans:     []extract.Span{span},
		History:   history,
	})
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	if got := out.Events[0].TargetEntity; got != 2 {
		t.Errorf("TargetEntity=%d, want 2 (entity 1 is already superseded)", got)
	}

	// With SearchSuperseded the already-corrected mention is fair game
	// again, and recency still prefers the later entity.
	rs := resolve.New(resolve.Config{SearchSuperseded: true})
	out = rs.Resolve(resolve.Input{
		TurnIndex: 1,
		Text:      text,
		Spans:     []extract.Span{span},
		History:   history,
	})
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	if got := out.Events[0].TargetEntity; got != 2 {
		t.Errorf("TargetEntity=%d, want 2", got)
	}
}

// --- Marker with no trailing content ---

func TestResolve_MarkerWithoutReplacementIgnored(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{})
	text := "It hurts when I bend it, sorry."
	out := r.Resolve(resolve.Input{Text: text})

	if len(out.Events) != 0 {
		t.Fatalf("got %d events, want 0", len(out.Events))
	}
	if out.Cleaned != text {
		t.Errorf("Cleaned=%q, want original %q", out.Cleaned, text)
	}
}

// --- Custom marker lexicon ---

func TestResolve_CustomMarkers(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.Config{Markers: []string{"scratch that"}})
	text := "I take Glucophage, scratch that, Ibuprofen daily."
	out := r.Resolve(resolve.Input{
		Text: text,
		Spans: []extract.Span{
			spanOf(text, "Glucophage", dialogue.EntityMedication),
			spanOf(text, "Ibuprofen", dialogue.EntityMedication),
		},
	})

	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	if got := out.Events[0].Marker; got != "scratch that" {
		t.Errorf("Marker=%q, want %q", got, "scratch that")
	}
	if want := "I take Ibuprofen, daily."; out.Cleaned != want {
		t.Errorf("Cleaned=%q, want %q", out.Cleaned, want)
	}
	// The default lexicon must not fire: "no" is not configured.
	text2 := "I take aspirin, no wait, Advil."
	out2 := r.Resolve(resolve.Input{
		Text: text2,
		Spans: []extract.Span{
			spanOf(text2, "aspirin", dialogue.EntityMedication),
			spanOf(text2, "Advil", dialogue.EntityMedication),
		},
	})
	if len(out2.Events) != 0 {
		t.Errorf("got %d events with custom lexicon, want 0", len(out2.Events))
	}
}
