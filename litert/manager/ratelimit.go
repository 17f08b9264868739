package manager

import (
	"sync"

	"golang.org/x/time/rate"
)

// AdmissionStats tracks how many QueueTask calls an admission limiter has
// allowed versus throttled, mirroring examples/middleware/rate-limiting's
// RateLimitStats so operators can observe backpressure the same way.
type AdmissionStats struct {
	Allowed    int
	Throttled  int
	TotalCalls int
}

// admissionLimiter wraps a token-bucket rate.Limiter with the call
// counters AdmissionStats reports, following
// examples/middleware/rate-limiting's TokenBucketLimiter.
type admissionLimiter struct {
	limiter *rate.Limiter

	mu    sync.Mutex
	stats AdmissionStats
}

func newAdmissionLimiter(requestsPerSecond float64, burst int) *admissionLimiter {
	return &admissionLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (a *admissionLimiter) Allow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalCalls++
	if a.limiter.Allow() {
		a.stats.Allowed++
		return true
	}
	a.stats.Throttled++
	return false
}

func (a *admissionLimiter) Stats() AdmissionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Option configures an ExecutionManager at construction time.
type Option func(*ExecutionManager)

// WithAdmissionLimit caps how many new tasks QueueTask admits per second,
// rejecting the rest with a KindResourceExhausted error rather than
// queueing unboundedly in front of the single shared executor. burst
// allows short spikes above requestsPerSecond before throttling kicks in.
func WithAdmissionLimit(requestsPerSecond float64, burst int) Option {
	return func(m *ExecutionManager) {
		m.admission = newAdmissionLimiter(requestsPerSecond, burst)
	}
}

// AdmissionStats reports the admission limiter's call counts, or the zero
// value if no limiter was configured.
func (m *ExecutionManager) AdmissionStats() AdmissionStats {
	if m.admission == nil {
		return AdmissionStats{}
	}
	return m.admission.Stats()
}
