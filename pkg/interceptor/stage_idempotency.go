package interceptor

import (
	"context"
	"net/http"
)

// IdempotencyStage is active only for POST/PUT/PATCH/DELETE requests
// carrying a non-empty Idempotency-Key header. On a store hit it
// populates the response buffer from the stored record, marks the
// request a replay, and short-circuits the remaining request stages
// (AuthnMap, AuthzQuota are skipped — the response is already decided).
type IdempotencyStage struct {
	Layer *IdempotencyLayer // nil disables the stage entirely
}

func (IdempotencyStage) Name() string { return "Idempotency" }

var idempotentMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func (s IdempotencyStage) HandleRequest(ctx context.Context, req Request, ic *Context) (StageOutcome, error) {
	if s.Layer == nil || !idempotentMethods[req.Method()] {
		return Continue, nil
	}
	raw := req.Header("Idempotency-Key")
	if raw == "" {
		return Continue, nil
	}

	key := buildIdempotencyKey(string(ic.TenantHeader), req.Method(), req.Path(), raw)
	ic.IdempotencyKey = &key

	record, hit, err := s.Layer.Store.Get(ctx, key)
	if err != nil {
		return Continue, err
	}
	if !hit {
		return Continue, nil
	}

	ic.IdempotencyReplay = true
	ic.ResponseStatus = record.Status
	ic.ResponseBody = record.Body
	for name, value := range record.Headers {
		ic.ResponseHeaders[name] = value
	}
	return ShortCircuit, nil
}
