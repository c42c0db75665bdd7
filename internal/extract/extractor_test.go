package extract_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hmorven/clarivox/internal/extract"
	"github.com/hmorven/clarivox/pkg/dialogue"
	"github.com/hmorven/clarivox/pkg/provider/ner"
	nermock "github.com/hmorven/clarivox/pkg/provider/ner/mock"
)

func TestExtract_GazetteerOnly(t *testing.T) {
	t.Parallel()

	e := extract.New(extract.NewGazetteer(testTerms()), nil)
	res, err := e.Extract(context.Background(), 0, "I take metformin for hypertension.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []extract.Span{
		{Type: dialogue.EntityMedication, Start: 7, End: 16, Surface: "metformin", Source: dialogue.SourceGazetteer},
		{Type: dialogue.EntityCondition, Start: 21, End: 33, Surface: "hypertension", Source: dialogue.SourceGazetteer},
	}
	if len(res.Spans) != len(want) {
		t.Fatalf("len(Spans) = %d, want %d (%+v)", len(res.Spans), len(want), res.Spans)
	}
	for i, s := range res.Spans {
		if s != want[i] {
			t.Errorf("Spans[%d] = %+v, want %+v", i, s, want[i])
		}
	}
}

func TestExtract_MergePrefersLongerSpan(t *testing.T) {
	t.Parallel()

	gaz := extract.NewGazetteer(map[dialogue.EntityType][]string{
		dialogue.EntitySymptom: {"pain"},
	})
	rec := &nermock.Recognizer{
		Spans: []ner.Span{{Label: "SYMPTOM", Start: 7, End: 17, Surface: "chest pain"}},
	}

	e := extract.New(gaz, rec)
	res, err := e.Extract(context.Background(), 0, "I have chest pain today.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(res.Spans) != 1 {
		t.Fatalf("len(Spans) = %d, want 1 (%+v)", len(res.Spans), res.Spans)
	}
	got := res.Spans[0]
	if got.Surface != "chest pain" || got.Source != dialogue.SourceRecognizer {
		t.Errorf("span = %+v, want recognizer span for %q", got, "chest pain")
	}
	if got.Type != dialogue.EntitySymptom {
		t.Errorf("Type = %q, want %q", got.Type, dialogue.EntitySymptom)
	}
}

func TestExtract_MergeTieGoesToGazetteer(t *testing.T) {
	t.Parallel()

	rec := &nermock.Recognizer{
		Spans: []ner.Span{{Label: "CHEMICAL", Start: 7, End: 14, Surface: "aspirin"}},
	}

	e := extract.New(extract.NewGazetteer(testTerms()), rec)
	res, err := e.Extract(context.Background(), 0, "I take aspirin today.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(res.Spans) != 1 {
		t.Fatalf("len(Spans) = %d, want 1 (%+v)", len(res.Spans), res.Spans)
	}
	if got := res.Spans[0].Source; got != dialogue.SourceGazetteer {
		t.Errorf("Source = %q, want %q", got, dialogue.SourceGazetteer)
	}
}

func TestExtract_RecognizerLabelsMapped(t *testing.T) {
	t.Parallel()

	rec := &nermock.Recognizer{
		Spans: []ner.Span{
			{Label: "drug", Start: 11, End: 21, Surface: "lisinopril"},
			{Label: "GIBBERISH", Start: 22, End: 31, Surface: "yesterday"},
		},
	}

	e := extract.New(extract.NewGazetteer(testTerms()), rec)
	res, err := e.Extract(context.Background(), 0, "He started lisinopril yesterday maybe.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(res.Spans) != 2 {
		t.Fatalf("len(Spans) = %d, want 2 (%+v)", len(res.Spans), res.Spans)
	}
	if got := res.Spans[0].Type; got != dialogue.EntityMedication {
		t.Errorf("Spans[0].Type = %q, want %q", got, dialogue.EntityMedication)
	}
	if got := res.Spans[1].Type; got != dialogue.EntityOther {
		t.Errorf("Spans[1].Type = %q, want %q", got, dialogue.EntityOther)
	}
}

func TestExtract_InvalidRecognizerOffsetsDropped(t *testing.T) {
	t.Parallel()

	rec := &nermock.Recognizer{
		Spans: []ner.Span{
			{Label: "SYMPTOM", Start: -1, End: 4},
			{Label: "SYMPTOM", Start: 0, End: 999},
			{Label: "SYMPTOM", Start: 3, End: 3},
		},
	}

	e := extract.New(extract.NewGazetteer(testTerms()), rec)
	res, err := e.Extract(context.Background(), 0, "Nothing notable.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Spans) != 0 {
		t.Errorf("Spans = %+v, want none", res.Spans)
	}
}

func TestExtract_AlignsBeforeRecognition(t *testing.T) {
	t.Parallel()

	rec := &nermock.Recognizer{}
	e := extract.New(extract.NewGazetteer(testTerms()), rec)
	res, err := e.Extract(context.Background(), 0, "I take propanol daily.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if want := "I take propranolol daily."; res.Text != want {
		t.Fatalf("Text = %q, want %q", res.Text, want)
	}
	if len(res.Fixes) != 1 {
		t.Errorf("len(Fixes) = %d, want 1", len(res.Fixes))
	}

	// The recognizer sees the aligned text, and the gazetteer matches the
	// canonical spelling.
	if len(rec.Calls) != 1 || rec.Calls[0].Text != res.Text {
		t.Errorf("recognizer saw %+v, want one call with aligned text", rec.Calls)
	}
	if len(res.Spans) != 1 || res.Spans[0].Surface != "propranolol" {
		t.Errorf("Spans = %+v, want one propranolol span", res.Spans)
	}
}

func TestExtract_RecognizerFailureDegrades(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("backend unavailable")
	rec := &nermock.Recognizer{Err: backendErr}

	e := extract.New(extract.NewGazetteer(testTerms()), rec)
	res, err := e.Extract(context.Background(), 3, "I take propanol daily.")

	var extErr *dialogue.ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *dialogue.ExtractionError", err)
	}
	if extErr.Turn != 3 {
		t.Errorf("Turn = %d, want 3", extErr.Turn)
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("errors.Is(err, backendErr) = false, want true")
	}

	// Alignment happened before the failure and survives in the result.
	if want := "I take propranolol daily."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if len(res.Spans) != 0 {
		t.Errorf("Spans = %+v, want none on a degraded turn", res.Spans)
	}
}

func TestExtract_RecognizerTimeout(t *testing.T) {
	t.Parallel()

	rec := &nermock.Recognizer{Block: make(chan struct{})}
	e := extract.New(extract.NewGazetteer(testTerms()), rec,
		extract.WithRecognizerTimeout(10*time.Millisecond))

	_, err := e.Extract(context.Background(), 0, "I take aspirin daily.")

	var extErr *dialogue.ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *dialogue.ExtractionError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("errors.Is(err, DeadlineExceeded) = false, want true")
	}
}
