package tx

import "testing"

func TestRetryPolicyNextAfterStaysWithinCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseMs: 100, Factor: 3.0, Jitter: 0.5, CapMs: 1_000}

	for attempts := uint32(1); attempts <= 10; attempts++ {
		next := p.NextAfter(0, attempts)
		if next < p.BaseMs {
			t.Fatalf("attempt %d: delay %d below base %d", attempts, next, p.BaseMs)
		}
		if next > p.CapMs {
			t.Fatalf("attempt %d: delay %d exceeds cap %d", attempts, next, p.CapMs)
		}
	}
}

func TestRetryPolicyAllowed(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	if !p.Allowed(0) || !p.Allowed(2) {
		t.Fatalf("attempts below MaxAttempts should be allowed")
	}
	if p.Allowed(3) {
		t.Fatalf("attempts equal to MaxAttempts should not be allowed")
	}
}

func TestDefaultRetryPolicyMatchesReferenceSchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 5 || p.BaseMs != 500 || p.Factor != 2.0 || p.CapMs != 60_000 {
		t.Fatalf("unexpected default retry policy: %+v", p)
	}
}
