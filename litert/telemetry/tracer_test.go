package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/tom-google/litertlm-go/litert/telemetry"
)

// newTestTracerProvider returns a TracerProvider with an in-memory
// exporter, following MrWong99-glyphoxa/internal/observe/trace_test.go's
// newTestTracerProvider.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestRecordSpanEndsSpanOnSuccess(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	telemetry.SetGlobalTracer(tp.Tracer("test"))
	t.Cleanup(func() { telemetry.SetGlobalTracer(nil) })

	result, err := telemetry.RecordSpan(context.Background(), telemetry.SpanOptions{Name: "op"},
		func(ctx context.Context, span trace.Span) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, result)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name)
	assert.Equal(t, codesOK(spans[0]), true)
}

func TestRecordSpanRecordsErrorStatus(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	telemetry.SetGlobalTracer(tp.Tracer("test"))
	t.Cleanup(func() { telemetry.SetGlobalTracer(nil) })

	wantErr := errors.New("boom")
	_, err := telemetry.RecordSpan(context.Background(), telemetry.SpanOptions{Name: "failing-op"},
		func(ctx context.Context, span trace.Span) (int, error) { return 0, wantErr })
	require.ErrorIs(t, err, wantErr)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "failing-op", spans[0].Name)
	require.Len(t, spans[0].Events, 1) // RecordError appends an exception event
}

func codesOK(s tracetest.SpanStub) bool {
	return s.Status.Code.String() == "Ok" || s.Status.Code.String() == "Unset"
}
