package observe_test

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/hmorven/clarivox/internal/observe"
)

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty for bare context", got)
	}
}

func TestCorrelationID_WithSpan(t *testing.T) {
	t.Parallel()
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	got := observe.CorrelationID(ctx)
	want := span.SpanContext().TraceID().String()
	if got != want {
		t.Errorf("CorrelationID() = %q, want %q", got, want)
	}
}

func TestLogger_PlainContext(t *testing.T) {
	t.Parallel()
	if observe.Logger(context.Background()) == nil {
		t.Fatal("Logger() returned nil")
	}
}

func TestStartSpan_ReturnsRecordingContext(t *testing.T) {
	t.Parallel()
	// The global provider may be a no-op; StartSpan must still return a
	// usable span and context.
	ctx, span := observe.StartSpan(context.Background(), "unit")
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan() returned nil context")
	}
	if sc := trace.SpanContextFromContext(ctx); !span.SpanContext().Equal(sc) {
		t.Error("span context not propagated into returned context")
	}
}
