package observe_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hmorven/clarivox/internal/observe"
)

// newTestMetrics builds a Metrics instance backed by a manual reader so tests
// can collect and inspect recorded data points.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reader
}

// collect gathers all currently recorded metrics from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

// findMetric locates a metric by name across all scopes, failing the test
// when absent.
func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q not found", name)
	return metricdata.Metrics{}
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	if m.TurnDuration == nil {
		t.Error("TurnDuration is nil")
	}
	if m.RecognizerDuration == nil {
		t.Error("RecognizerDuration is nil")
	}
	if m.TranscriptDuration == nil {
		t.Error("TranscriptDuration is nil")
	}
	if m.Turns == nil {
		t.Error("Turns is nil")
	}
	if m.Corrections == nil {
		t.Error("Corrections is nil")
	}
	if m.SafetyFlags == nil {
		t.Error("SafetyFlags is nil")
	}
	if m.ExtractionErrors == nil {
		t.Error("ExtractionErrors is nil")
	}
	if m.ActiveTranscripts == nil {
		t.Error("ActiveTranscripts is nil")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}
}

func TestMetrics_HistogramRecords(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TurnDuration.Record(ctx, 0.042)
	m.TurnDuration.Record(ctx, 0.007)
	m.TranscriptDuration.Record(ctx, 1.5)

	rm := collect(t, reader)

	turn := findMetric(t, rm, "clarivox.turn.duration")
	hist, ok := turn.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("clarivox.turn.duration data type = %T, want Histogram[float64]", turn.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("len(DataPoints) = %d, want 1", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}

	findMetric(t, rm, "clarivox.transcript.duration")
}

func TestMetrics_RecordTurnAttributes(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "patient", "ok")
	m.RecordTurn(ctx, "patient", "ok")
	m.RecordTurn(ctx, "clinician", "degraded")

	rm := collect(t, reader)
	turns := findMetric(t, rm, "clarivox.turns")
	sum, ok := turns.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("clarivox.turns data type = %T, want Sum[int64]", turns.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("len(DataPoints) = %d, want 2", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		speaker, _ := dp.Attributes.Value(attribute.Key("speaker"))
		switch speaker.AsString() {
		case "patient":
			if dp.Value != 2 {
				t.Errorf("patient turns = %d, want 2", dp.Value)
			}
		case "clinician":
			if dp.Value != 1 {
				t.Errorf("clinician turns = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected speaker attribute %q", speaker.AsString())
		}
	}
}

func TestMetrics_RecordCorrectionAndFlag(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCorrection(ctx, "same-type-recency")
	m.RecordCorrection(ctx, "preceding-token-fallback")
	m.RecordSafetyFlag(ctx, "medication-change")
	m.RecordExtractionError(ctx)

	rm := collect(t, reader)

	corr := findMetric(t, rm, "clarivox.corrections")
	sum, ok := corr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("clarivox.corrections data type = %T, want Sum[int64]", corr.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("len(DataPoints) = %d, want 2", len(sum.DataPoints))
	}

	flags := findMetric(t, rm, "clarivox.safety.flags")
	fsum, ok := flags.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("clarivox.safety.flags data type = %T, want Sum[int64]", flags.Data)
	}
	rule, _ := fsum.DataPoints[0].Attributes.Value(attribute.Key("rule"))
	if got := rule.AsString(); got != "medication-change" {
		t.Errorf("rule attribute = %q, want %q", got, "medication-change")
	}

	findMetric(t, rm, "clarivox.extraction.errors")
}

func TestMetrics_ActiveTranscriptsUpDown(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTranscripts.Add(ctx, 1)
	m.ActiveTranscripts.Add(ctx, 1)
	m.ActiveTranscripts.Add(ctx, -1)

	rm := collect(t, reader)
	active := findMetric(t, rm, "clarivox.active_transcripts")
	sum, ok := active.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("clarivox.active_transcripts data type = %T, want Sum[int64]", active.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("ActiveTranscripts = %d, want 1", got)
	}
}

func TestAttr(t *testing.T) {
	t.Parallel()
	kv := observe.Attr("rule", "dangerous-symptom")
	if kv.Key != "rule" {
		t.Errorf("Key = %q, want %q", kv.Key, "rule")
	}
	if got := kv.Value.AsString(); got != "dangerous-symptom" {
		t.Errorf("Value = %q, want %q", got, "dangerous-symptom")
	}
}
