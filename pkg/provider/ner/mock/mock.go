// Package mock provides a test double for the ner.Recognizer interface.
//
// Use Recognizer in unit tests to feed controlled spans to the extraction
// layer and to verify how the pipeline reacts to recognizer failures
// without a live backend.
//
// Example:
//
//	r := &mock.Recognizer{
//	    Spans: []ner.Span{{Label: "MEDICATION", Start: 7, End: 16, Surface: "metformin"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/hmorven/clarivox/pkg/provider/ner"
)

// Call records a single invocation of Recognize.
type Call struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Text is the input passed to Recognize.
	Text string
}

// Compile-time assertion that Recognizer satisfies ner.Recognizer.
var _ ner.Recognizer = (*Recognizer)(nil)

// Recognizer is a mock implementation of ner.Recognizer.
// Zero values cause Recognize to return no spans and a nil error.
type Recognizer struct {
	mu sync.Mutex

	// Spans is returned by Recognize when Err is nil and SpansFor has no
	// entry for the input text.
	Spans []ner.Span

	// SpansFor maps exact input text to the spans to return for it. Takes
	// precedence over Spans.
	SpansFor map[string][]ner.Span

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// Block, if non-nil, is closed by the test to release a blocked
	// Recognize call. While open, Recognize waits on it or on ctx — used to
	// exercise timeout handling.
	Block chan struct{}

	// Calls records every invocation of Recognize in order.
	Calls []Call
}

// Recognize implements ner.Recognizer. It records the call and returns the
// configured spans or error.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]ner.Span, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Ctx: ctx, Text: text})
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if r.Err != nil {
		return nil, r.Err
	}
	if r.SpansFor != nil {
		if spans, ok := r.SpansFor[text]; ok {
			return spans, nil
		}
	}
	return r.Spans, nil
}
