// Package observe provides application-wide observability primitives for
// Clarivox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Clarivox metrics.
const meterName = "github.com/hmorven/clarivox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks per-turn processing latency across the whole
	// pipeline (normalize, extract, resolve, safety).
	TurnDuration metric.Float64Histogram

	// RecognizerDuration tracks external entity-recognizer call latency.
	RecognizerDuration metric.Float64Histogram

	// TranscriptDuration tracks end-to-end transcript processing latency.
	TranscriptDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts processed turns. Use with attributes:
	//   attribute.String("speaker", ...), attribute.String("status", ...)
	Turns metric.Int64Counter

	// Corrections counts resolved correction events. Use with attribute:
	//   attribute.String("strategy", ...)
	Corrections metric.Int64Counter

	// SafetyFlags counts raised safety flags. Use with attribute:
	//   attribute.String("rule", ...)
	SafetyFlags metric.Int64Counter

	// --- Error counters ---

	// ExtractionErrors counts recognizer failures that degraded a turn.
	ExtractionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTranscripts tracks the number of transcripts currently being
	// processed.
	ActiveTranscripts metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// text-pipeline stages with one bounded external recognizer call.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("clarivox.turn.duration",
		metric.WithDescription("Latency of processing one turn through the pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizerDuration, err = m.Float64Histogram("clarivox.recognizer.duration",
		metric.WithDescription("Latency of external entity-recognizer calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDuration, err = m.Float64Histogram("clarivox.transcript.duration",
		metric.WithDescription("End-to-end transcript processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("clarivox.turns",
		metric.WithDescription("Total processed turns by speaker and status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("clarivox.corrections",
		metric.WithDescription("Total correction events by resolution strategy."),
	); err != nil {
		return nil, err
	}
	if met.SafetyFlags, err = m.Int64Counter("clarivox.safety.flags",
		metric.WithDescription("Total safety flags by rule."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ExtractionErrors, err = m.Int64Counter("clarivox.extraction.errors",
		metric.WithDescription("Total recognizer failures that degraded a turn."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTranscripts, err = m.Int64UpDownCounter("clarivox.active_transcripts",
		metric.WithDescription("Number of transcripts currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("clarivox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn is a convenience method that counts one processed turn with the
// standard attribute set.
func (m *Metrics) RecordTurn(ctx context.Context, speaker, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("speaker", speaker),
			attribute.String("status", status),
		),
	)
}

// RecordCorrection is a convenience method that counts one correction event
// by resolution strategy.
func (m *Metrics) RecordCorrection(ctx context.Context, strategy string) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordSafetyFlag is a convenience method that counts one safety flag by
// rule.
func (m *Metrics) RecordSafetyFlag(ctx context.Context, rule string) {
	m.SafetyFlags.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rule", rule)),
	)
}

// RecordExtractionError is a convenience method that counts one degraded
// turn.
func (m *Metrics) RecordExtractionError(ctx context.Context) {
	m.ExtractionErrors.Add(ctx, 1)
}
