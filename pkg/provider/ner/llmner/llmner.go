// Package llmner implements a language-model-backed [ner.Recognizer].
//
// The recognizer sends the turn text to an [llm.Provider] with a
// conservative extraction prompt and parses the structured JSON response
// into labeled spans. The model reports surfaces and labels only — byte
// offsets are located locally against the input text, because models are
// unreliable at character arithmetic.
//
// Failures (network errors, context deadline, unparseable output) are
// returned as errors; the extraction layer treats them as recoverable and
// degrades the affected turn rather than aborting the transcript.
package llmner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hmorven/clarivox/pkg/provider/llm"
	"github.com/hmorven/clarivox/pkg/provider/ner"
)

const defaultTemperature = 0.0

// systemPrompt instructs the model to extract clinical entities. The
// response contract mirrors the span model: label + exact surface text.
const systemPrompt = `You are a clinical named-entity extraction assistant.

Your task: list every clinically relevant entity mentioned in the provided utterance.

Rules:
- Recognise these labels: MEDICATION, SYMPTOM, BODY_PART, CONDITION.
- Report each entity's surface text EXACTLY as it appears in the utterance, character for character.
- Do NOT normalise, translate, expand, or correct spelling.
- Do NOT invent entities that are not literally present in the text.
- Report an entity once per occurrence, in order of appearance.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "entities": [
    {"label": "<LABEL>", "surface": "<exact text>"}
  ]
}

If the utterance contains no entities, return an empty entities array.`

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	Entities []struct {
		Label   string `json:"label"`
		Surface string `json:"surface"`
	} `json:"entities"`
}

// Option is a functional option for configuring a [Recognizer].
type Option func(*Recognizer)

// WithTemperature sets the LLM sampling temperature. Default: 0.0 for
// maximally deterministic extraction.
func WithTemperature(temp float64) Option {
	return func(r *Recognizer) {
		r.temperature = temp
	}
}

// Compile-time assertion that Recognizer satisfies ner.Recognizer.
var _ ner.Recognizer = (*Recognizer)(nil)

// Recognizer uses an [llm.Provider] to extract labeled spans from text.
// It is safe for concurrent use.
type Recognizer struct {
	llm         llm.Provider
	temperature float64
}

// New returns a new [Recognizer] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Recognizer {
	r := &Recognizer{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recognize implements ner.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]ner.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  r.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
	}

	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llmner: complete: %w", err)
	}

	return parseResponse(resp.Content, text)
}

// parseResponse unmarshals the model output and locates each reported
// surface in the input text. Surfaces the model hallucinated (not present
// in the text) are skipped rather than failing the whole call; a response
// that is not valid JSON fails the call.
func parseResponse(content, text string) ([]ner.Span, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("llmner: parse response: %w", err)
	}

	var spans []ner.Span
	// searchFrom tracks where the previous occurrence ended so repeated
	// surfaces map to successive occurrences, not the same one twice.
	searchFrom := map[string]int{}

	for _, e := range r.Entities {
		if e.Surface == "" || e.Label == "" {
			continue
		}
		from := searchFrom[strings.ToLower(e.Surface)]
		idx := indexFold(text, e.Surface, from)
		if idx < 0 {
			// Retry from the beginning in case the model reported
			// occurrences out of order.
			idx = indexFold(text, e.Surface, 0)
		}
		if idx < 0 {
			continue
		}
		end := idx + len(e.Surface)
		spans = append(spans, ner.Span{
			Label:   strings.ToUpper(e.Label),
			Start:   idx,
			End:     end,
			Surface: text[idx:end],
		})
		searchFrom[strings.ToLower(e.Surface)] = end
	}

	return spans, nil
}

// indexFold returns the byte offset of the first case-insensitive
// occurrence of sub in s at or after from, or -1.
func indexFold(s, sub string, from int) int {
	if from < 0 || from > len(s) {
		return -1
	}
	idx := strings.Index(strings.ToLower(s[from:]), strings.ToLower(sub))
	if idx < 0 {
		return -1
	}
	return from + idx
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
