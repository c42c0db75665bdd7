// Package ner defines the Recognizer interface for named-entity recognition
// backends.
//
// The cleaning pipeline treats the recognizer as a black-box capability:
// text in, typed spans out. Nothing downstream may assume anything about the
// recognizer's internal model, so implementations range from a deterministic
// lexicon matcher ([github.com/hmorven/clarivox/pkg/provider/ner/rulebased])
// to an LLM-backed extractor
// ([github.com/hmorven/clarivox/pkg/provider/ner/llmner]).
//
// Implementations must be safe for concurrent use and deterministic for
// identical input wherever the backend permits it.
package ner

import "context"

// Span is a single labeled region of the input text.
type Span struct {
	// Label is the recognizer's type label for the span (e.g., "MEDICATION").
	// Labels are mapped onto the pipeline's entity types by the extractor;
	// unknown labels are preserved rather than discarded.
	Label string

	// Start and End are byte offsets into the input text (End exclusive).
	Start int
	End   int

	// Surface is the exact text of the span, equal to text[Start:End].
	Surface string
}

// Recognizer produces labeled spans for a piece of text.
//
// Recognize must honor ctx cancellation and deadlines — the caller bounds
// each call with a timeout and treats an exceeded deadline as a recoverable
// extraction failure, not a fatal error.
//
// Implementations must be safe for concurrent use.
type Recognizer interface {
	// Recognize returns the labeled spans found in text, ordered by Start
	// offset. An empty (possibly nil) slice with a nil error means no
	// entities were found.
	Recognize(ctx context.Context, text string) ([]Span, error)
}
