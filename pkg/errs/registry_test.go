package errs

import "testing"

func TestSpecOfKnownCodes(t *testing.T) {
	cases := []struct {
		code       Code
		httpStatus int
		retryable  RetryClass
	}{
		{AuthUnauthenticated, 401, RetryNone},
		{QuotaRateLimited, 429, RetryTransient},
		{QuotaBudgetExceeded, 402, RetryPermanent},
		{PolicyDenyTool, 403, RetryPermanent},
		{StorageConflict, 409, RetryTransient},
		{TxIdempotentBusy, 409, RetryTransient},
		{TxIdempotentLastFailed, 409, RetryNone},
	}

	for _, tc := range cases {
		spec, ok := SpecOf(tc.code)
		if !ok {
			t.Fatalf("code %s not registered", tc.code)
		}
		if spec.HTTPStatus != tc.httpStatus {
			t.Errorf("%s: http status = %d, want %d", tc.code, spec.HTTPStatus, tc.httpStatus)
		}
		if spec.Retryable != tc.retryable {
			t.Errorf("%s: retryable = %s, want %s", tc.code, spec.Retryable, tc.retryable)
		}
	}
}

func TestHTTPStatusOfUnregisteredDefaultsTo500(t *testing.T) {
	if got := HTTPStatusOf(Code("NOT.A.REAL.CODE")); got != 500 {
		t.Errorf("HTTPStatusOf(unregistered) = %d, want 500", got)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	register(CodeSpec{Code: AuthUnauthenticated})
}

func TestPublicViewOmitsInternalFields(t *testing.T) {
	e := New(PolicyDenyTool).WithDevMessage("internal detail").WithMeta("tenant", "acme").WithCorrelationID("corr-1")
	pub := e.ToPublic()
	if pub.Code != PolicyDenyTool || pub.CorrelationID != "corr-1" {
		t.Fatalf("unexpected public view: %+v", pub)
	}

	audit := e.ToAudit()
	if audit.DevMessage != "internal detail" {
		t.Errorf("audit view missing dev message")
	}
	if audit.Meta["tenant"] != "acme" {
		t.Errorf("audit view missing meta")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	e1 := New(AuthForbidden).WithDevMessage("a")
	e2 := New(AuthForbidden).WithDevMessage("b")
	if !e1.Is(e2) {
		t.Error("expected errors with the same code to match via Is")
	}
}
