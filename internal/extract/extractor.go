// Package extract implements the entity extraction layer: the domain
// gazetteer combined with a black-box [ner.Recognizer].
//
// Per turn the extractor:
//
//  1. Phonetically aligns misheard surface forms to canonical gazetteer
//     terms ("propanol" → "propranolol").
//  2. Finds exact gazetteer matches in the aligned text.
//  3. Invokes the external recognizer under a caller-supplied timeout.
//  4. Merges the two span sets: on overlap the longer span wins, ties go to
//     the gazetteer.
//
// A recognizer failure or timeout surfaces as a
// [dialogue.ExtractionError]; the orchestrator marks the turn degraded and
// continues with no entities for that turn rather than aborting the
// transcript.
//
// Extraction is deterministic for identical input: the gazetteer carries no
// cross-call state and the recognizer contract requires determinism where
// the backend permits it.
package extract

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hmorven/clarivox/pkg/dialogue"
	"github.com/hmorven/clarivox/pkg/provider/ner"
)

const defaultRecognizerTimeout = 10 * time.Second

// Span is an extracted entity span with byte offsets into the aligned turn
// text.
type Span struct {
	Type    dialogue.EntityType
	Start   int
	End     int
	Surface string
	Source  dialogue.EntitySource
}

// Result is the outcome of extracting one turn.
type Result struct {
	// Text is the aligned turn text the span offsets refer to. Equal to the
	// input when no phonetic fixes were applied.
	Text string

	// Spans is the merged, start-ordered span list. Empty on degraded
	// turns.
	Spans []Span

	// Fixes lists the phonetic gazetteer alignments applied to the text.
	Fixes []dialogue.PhoneticFix
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithRecognizerTimeout bounds each external recognizer call. When the
// deadline is exceeded the turn degrades instead of stalling the pipeline.
// Default: 10s.
func WithRecognizerTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.timeout = d
	}
}

// Extractor produces typed entity spans for turn text. It is read-only
// after construction and safe for concurrent use.
type Extractor struct {
	gaz     *Gazetteer
	rec     ner.Recognizer
	timeout time.Duration
}

// New constructs an Extractor. rec may be nil, in which case only the
// gazetteer contributes spans.
func New(gaz *Gazetteer, rec ner.Recognizer, opts ...Option) *Extractor {
	e := &Extractor{
		gaz:     gaz,
		rec:     rec,
		timeout: defaultRecognizerTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Gazetteer returns the extractor's gazetteer, shared with components that
// need exact term lookups (the safety engine's medication check).
func (e *Extractor) Gazetteer() *Gazetteer { return e.gaz }

// Extract produces the entity spans of one turn. turnIndex is used only for
// error reporting.
//
// On recognizer failure the returned Result still carries the aligned text
// and phonetic fixes, but Spans is empty and the error is a
// *dialogue.ExtractionError — the caller marks the turn degraded and
// continues.
func (e *Extractor) Extract(ctx context.Context, turnIndex int, text string) (Result, error) {
	aligned, fixes := e.gaz.Align(text)
	res := Result{Text: aligned, Fixes: fixes}

	gazSpans := e.gazetteerSpans(aligned)

	var recSpans []Span
	if e.rec != nil {
		rctx, cancel := context.WithTimeout(ctx, e.timeout)
		spans, err := e.rec.Recognize(rctx, aligned)
		cancel()
		if err != nil {
			return res, &dialogue.ExtractionError{Turn: turnIndex, Err: err}
		}
		recSpans = convertSpans(aligned, spans)
	}

	res.Spans = merge(gazSpans, recSpans)
	return res, nil
}

// gazetteerSpans converts exact gazetteer matches into spans.
func (e *Extractor) gazetteerSpans(text string) []Span {
	matches := e.gaz.Find(text)
	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, Span{
			Type:    m.Type,
			Start:   m.Start,
			End:     m.End,
			Surface: m.Surface,
			Source:  dialogue.SourceGazetteer,
		})
	}
	return spans
}

// convertSpans maps recognizer output onto pipeline spans, normalising
// labels and dropping spans with invalid offsets.
func convertSpans(text string, spans []ner.Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		out = append(out, Span{
			Type:    MapLabel(s.Label),
			Start:   s.Start,
			End:     s.End,
			Surface: text[s.Start:s.End],
			Source:  dialogue.SourceRecognizer,
		})
	}
	return out
}

// MapLabel maps a recognizer label onto a pipeline entity type. Unknown
// labels map to [dialogue.EntityOther] rather than being discarded.
func MapLabel(label string) dialogue.EntityType {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "MEDICATION", "MED", "DRUG", "CHEMICAL":
		return dialogue.EntityMedication
	case "SYMPTOM", "SIGN":
		return dialogue.EntitySymptom
	case "BODY_PART", "BODYPART", "ANATOMY", "ANATOMICAL_STRUCTURE":
		return dialogue.EntityBodyPart
	case "CONDITION", "DISEASE", "DIAGNOSIS", "DISORDER":
		return dialogue.EntityCondition
	default:
		return dialogue.EntityOther
	}
}

// merge resolves overlaps between gazetteer and recognizer spans: the
// longer span wins; on equal length the gazetteer takes precedence. The
// result is ordered by start offset.
func merge(gaz, rec []Span) []Span {
	candidates := make([]Span, 0, len(gaz)+len(rec))
	candidates = append(candidates, gaz...)
	candidates = append(candidates, rec...)
	if len(candidates) == 0 {
		return nil
	}

	// Order candidates by priority: length desc, gazetteer before
	// recognizer, then start asc for stability.
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := candidates[i].End-candidates[i].Start, candidates[j].End-candidates[j].Start
		if li != lj {
			return li > lj
		}
		if candidates[i].Source != candidates[j].Source {
			return candidates[i].Source == dialogue.SourceGazetteer
		}
		return candidates[i].Start < candidates[j].Start
	})

	var accepted []Span
	for _, c := range candidates {
		if overlapsAny(accepted, c) {
			continue
		}
		accepted = append(accepted, c)
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

func overlapsAny(spans []Span, s Span) bool {
	for _, a := range spans {
		if s.Start < a.End && a.Start < s.End {
			return true
		}
	}
	return false
}
