package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wisbric/agentcore/pkg/errs"
)

func TestResiliencePolicyRetriesOnlyTransientErrors(t *testing.T) {
	p := ResiliencePolicy{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}
	attempts := 0

	_, err := p.Execute(context.Background(), func(context.Context) ([]byte, error) {
		attempts++
		return nil, errs.New(errs.ProviderUnavailable)
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestResiliencePolicyDoesNotRetryPermanentErrors(t *testing.T) {
	p := ResiliencePolicy{Timeout: time.Second, MaxRetries: 5, RetryDelay: time.Millisecond}
	attempts := 0

	_, err := p.Execute(context.Background(), func(context.Context) ([]byte, error) {
		attempts++
		return nil, errs.New(errs.PolicyDenyTool)
	})
	if err == nil {
		t.Fatal("expected an error to surface")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
}

func TestResiliencePolicySucceedsAfterTransientRetry(t *testing.T) {
	p := ResiliencePolicy{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}
	attempts := 0

	body, err := p.Execute(context.Background(), func(context.Context) ([]byte, error) {
		attempts++
		if attempts < 2 {
			return nil, errs.New(errs.ProviderUnavailable)
		}
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestResiliencePolicyReturnsNonCatalogErrors(t *testing.T) {
	p := ResiliencePolicy{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond}

	_, err := p.Execute(context.Background(), func(context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
}
