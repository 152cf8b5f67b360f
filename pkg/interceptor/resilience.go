package interceptor

import (
	"context"
	"errors"
	"time"

	"github.com/wisbric/agentcore/pkg/errs"
)

// ResiliencePolicy wraps the Handler call with a per-attempt timeout and a
// fixed number of retries, retried only when the returned error carries
// errs.RetryTransient — a fixed backoff between attempts, no jitter,
// mirroring the reference's execute_with_resilience.
type ResiliencePolicy struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultResiliencePolicy matches the chain's documented defaults: a 10s
// timeout per attempt and no retries unless the caller opts in.
func DefaultResiliencePolicy() ResiliencePolicy {
	return ResiliencePolicy{Timeout: 10 * time.Second, MaxRetries: 0, RetryDelay: 200 * time.Millisecond}
}

// Execute runs fn, retrying up to MaxRetries times when fn's error is a
// RetryTransient *errs.Error, each attempt bounded by Timeout.
func (p ResiliencePolicy) Execute(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		body, err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attemptCtx.Err() != nil && ctx.Err() == nil {
			lastErr = errs.New(errs.LlmTimeout).WithDevMessage("handler exceeded resilience timeout").WithCause(err)
		}

		var e *errs.Error
		if !errors.As(lastErr, &e) || e.Retryable != errs.RetryTransient || attempt == p.MaxRetries {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.RetryDelay):
		}
	}
	return nil, lastErr
}
