package tx

import (
	"math"
	"math/rand"
)

// RetryPolicy is an exponential-with-jitter backoff schedule, used by the
// outbox dispatcher; SagaOrchestrator does not retry steps with it.
type RetryPolicy struct {
	MaxAttempts uint32
	BaseMs      int64
	Factor      float64
	Jitter      float64 // in [0,1]
	CapMs       int64
}

// DefaultRetryPolicy mirrors the reference schedule: 5 attempts, 500ms
// base, factor 2, 30% jitter, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseMs: 500, Factor: 2.0, Jitter: 0.3, CapMs: 60_000}
}

// BackoffPolicy computes the next eligible dispatch time and whether a
// given attempt count is still within budget.
type BackoffPolicy interface {
	NextAfter(nowMs int64, attempts uint32) int64
	Allowed(attempts uint32) bool
}

// NextAfter returns now_ms + clamp(base*factor^(attempts-1), [base,cap]) *
// (1 + uniform(-jitter,+jitter)).
func (p RetryPolicy) NextAfter(nowMs int64, attempts uint32) int64 {
	exp := float64(p.BaseMs)
	if attempts > 1 {
		exp = float64(p.BaseMs) * math.Pow(p.Factor, float64(attempts-1))
	}
	capped := exp
	if capped > float64(p.CapMs) {
		capped = float64(p.CapMs)
	}
	jitter := 1.0 + (rand.Float64()*2.0-1.0)*p.Jitter
	delay := capped * jitter
	if delay < float64(p.BaseMs) {
		delay = float64(p.BaseMs)
	}
	if delay > float64(p.CapMs) {
		delay = float64(p.CapMs)
	}
	return nowMs + int64(delay)
}

// Allowed reports whether attempts is still below MaxAttempts.
func (p RetryPolicy) Allowed(attempts uint32) bool {
	return attempts < p.MaxAttempts
}
