// Package telemetry records per-session timing/throughput statistics and
// emits them as structured log events and OpenTelemetry metrics, grounded
// on pkg/ai/stream.go's telemetry span handling (otel) and the zerolog
// usage in the intelligencedev-manifold/haasonsaas-nexus example repos.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BenchmarkInfo accumulates prefill/decode timing for one session
// (spec.md §3 "benchmark_info", §4.2 GetMutableBenchmarkInfo).
type BenchmarkInfo struct {
	mu sync.Mutex

	PrefillTokens int
	PrefillTime   time.Duration
	DecodeTokens  int
	DecodeTime    time.Duration

	logger   zerolog.Logger
	counter  metric.Int64Counter
	sessionID string
}

// New builds a BenchmarkInfo that logs through logger and, if meter is
// non-nil, records token counts to an otel counter named
// "litertlm.tokens_processed".
func New(logger zerolog.Logger, meter metric.Meter, sessionID string) *BenchmarkInfo {
	b := &BenchmarkInfo{logger: logger.With().Str("session_id", sessionID).Logger(), sessionID: sessionID}
	if meter != nil {
		if c, err := meter.Int64Counter("litertlm.tokens_processed"); err == nil {
			b.counter = c
		}
	}
	return b
}

// RecordPrefill adds one prefill call's token count and wall-clock
// duration.
func (b *BenchmarkInfo) RecordPrefill(tokens int, d time.Duration) {
	b.mu.Lock()
	b.PrefillTokens += tokens
	b.PrefillTime += d
	b.mu.Unlock()
	b.logger.Debug().Int("tokens", tokens).Dur("duration", d).Msg("prefill step")
	if b.counter != nil {
		b.counter.Add(context.Background(), int64(tokens), metric.WithAttributes(attribute.String("phase", "prefill")))
	}
	b.recordSpan("litertlm.prefill", tokens, d)
}

// RecordDecode adds one decode step's token count and wall-clock duration.
func (b *BenchmarkInfo) RecordDecode(tokens int, d time.Duration) {
	b.mu.Lock()
	b.DecodeTokens += tokens
	b.DecodeTime += d
	b.mu.Unlock()
	b.logger.Debug().Int("tokens", tokens).Dur("duration", d).Msg("decode step")
	if b.counter != nil {
		b.counter.Add(context.Background(), int64(tokens), metric.WithAttributes(attribute.String("phase", "decode")))
	}
	b.recordSpan("litertlm.decode", tokens, d)
}

// recordSpan emits a zero-duration-work span annotated with the step's
// already-measured tokens/duration, so a trace backend shows prefill/decode
// steps alongside whatever spans the caller's own instrumentation created
// around the surrounding RunPrefill/RunDecode call.
func (b *BenchmarkInfo) recordSpan(name string, tokens int, d time.Duration) {
	_, span := globalTracer.Start(context.Background(), name, trace.WithAttributes(
		attribute.String("session_id", b.sessionID),
		attribute.Int("tokens", tokens),
		attribute.Int64("duration_ms", d.Milliseconds()),
	))
	span.End()
}

// PrefillTokensPerSecond returns the running prefill throughput, or 0 if no
// prefill time has been recorded yet.
func (b *BenchmarkInfo) PrefillTokensPerSecond() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PrefillTime <= 0 {
		return 0
	}
	return float64(b.PrefillTokens) / b.PrefillTime.Seconds()
}

// DecodeTokensPerSecond returns the running decode throughput, or 0 if no
// decode time has been recorded yet.
func (b *BenchmarkInfo) DecodeTokensPerSecond() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DecodeTime <= 0 {
		return 0
	}
	return float64(b.DecodeTokens) / b.DecodeTime.Seconds()
}

// Snapshot returns a value copy safe to log or serialize.
func (b *BenchmarkInfo) Snapshot() BenchmarkInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BenchmarkInfo{
		PrefillTokens: b.PrefillTokens,
		PrefillTime:   b.PrefillTime,
		DecodeTokens:  b.DecodeTokens,
		DecodeTime:    b.DecodeTime,
		sessionID:     b.sessionID,
	}
}
