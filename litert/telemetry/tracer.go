package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName identifies spans this package emits, following
// pkg/telemetry/tracer.go's TracerName convention.
const TracerName = "litertlm"

// TracerProvider wraps an sdktrace.TracerProvider exporting spans to an
// OTLP/HTTP collector, built from NewTracerProvider. Callers must call
// Shutdown when the engine is destroyed so buffered spans are flushed.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider dials an OTLP/HTTP span exporter at endpoint (e.g.
// "localhost:4318") and returns a TracerProvider backed by it. Pass an
// empty endpoint to build a provider with no exporter registered (spans
// are created and dropped, useful for local smoke-testing the span
// plumbing without a collector running).
func NewTracerProvider(ctx context.Context, endpoint string) (*TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{}
	if endpoint != "" {
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()))
		if err != nil {
			return nil, fmt.Errorf("build otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return &TracerProvider{provider: sdktrace.NewTracerProvider(opts...)}, nil
}

// Tracer returns a trace.Tracer for span creation, following
// pkg/telemetry/tracer.go's GetTracer: a nil TracerProvider (benchmarking
// disabled) yields a no-op tracer instead of forcing every caller to
// nil-check.
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.provider == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return tp.provider.Tracer(TracerName)
}

// Shutdown flushes and stops the underlying span processor.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// globalTracer lets BenchmarkInfo emit spans without every call site
// threading a tracer.Tracer through; SetGlobalTracer installs one (e.g.
// from a *TracerProvider built at engine startup), otherwise spans are
// created against a no-op tracer and discarded.
var globalTracer trace.Tracer = noop.NewTracerProvider().Tracer(TracerName)

// SetGlobalTracer installs the tracer BenchmarkInfo.RecordPrefill/
// RecordDecode use to wrap each step in a span.
func SetGlobalTracer(t trace.Tracer) {
	if t == nil {
		t = noop.NewTracerProvider().Tracer(TracerName)
	}
	globalTracer = t
}

// SpanOptions configures one RecordSpan call, following
// pkg/telemetry/span.go's SpanOptions.
type SpanOptions struct {
	Name       string
	Attributes []attribute.KeyValue
}

// RecordSpan starts a span named opts.Name, runs fn, records any returned
// error on the span, and always ends it — the generic result-returning
// shape of pkg/telemetry/span.go's RecordSpan.
func RecordSpan[T any](ctx context.Context, opts SpanOptions, fn func(context.Context, trace.Span) (T, error)) (T, error) {
	ctx, span := globalTracer.Start(ctx, opts.Name, trace.WithAttributes(opts.Attributes...))
	defer span.End()

	result, err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, err
	}
	return result, nil
}
