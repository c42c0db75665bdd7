package resilience

import (
	"context"

	"github.com/hmorven/clarivox/pkg/provider/ner"
)

// RecognizerFallback implements [ner.Recognizer] with automatic failover
// across multiple recognition backends. The typical deployment pairs an
// LLM-backed recognizer with the deterministic rule-based one, so entity
// extraction keeps working when the model API is down — at reduced recall
// rather than not at all.
type RecognizerFallback struct {
	group *FallbackGroup[ner.Recognizer]
}

// Compile-time interface assertion.
var _ ner.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend.
func NewRecognizerFallback(primary ner.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	return &RecognizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition backend as a fallback.
func (f *RecognizerFallback) AddFallback(name string, rec ner.Recognizer) {
	f.group.AddFallback(name, rec)
}

// Recognize returns spans from the first healthy backend. If the primary
// fails, subsequent fallbacks are tried; only when every backend fails does
// the call error, degrading the turn.
func (f *RecognizerFallback) Recognize(ctx context.Context, text string) ([]ner.Span, error) {
	return ExecuteWithResult(f.group, func(r ner.Recognizer) ([]ner.Span, error) {
		return r.Recognize(ctx, text)
	})
}
