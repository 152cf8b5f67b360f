package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/wisbric/agentcore/pkg/errs"
)

// StageOutcome tells the Chain whether to keep running the remaining
// stages in the current half (request or response) or stop early.
type StageOutcome int

const (
	Continue StageOutcome = iota
	ShortCircuit
)

// Stage is one request-half pipeline step.
type Stage interface {
	Name() string
	HandleRequest(ctx context.Context, req Request, ic *Context) (StageOutcome, error)
}

// ResponseStage is one response-half pipeline step, run after the
// handler (or after a request-stage short-circuit) with the response
// already buffered into ic.
type ResponseStage interface {
	Name() string
	HandleResponse(ctx context.Context, ic *Context) error
}

// Handler produces the response body for a request that passed every
// request stage. A returned *errs.Error with Retryable == RetryTransient
// is eligible for ResiliencePolicy retries.
type Handler func(ctx context.Context, ic *Context) ([]byte, error)

// ErrorResponder renders an error as the final response, the only place
// a stage-level or handler-level error is allowed to surface.
type ErrorResponder interface {
	Respond(ctx context.Context, ic *Context, resp Response, err error)
}

// DefaultErrorResponder writes the error's Public view as JSON under its
// mapped HTTP status, and stamps the Audit view's label set into
// ic.Extensions["last_error_labels"] for downstream logging/metrics.
type DefaultErrorResponder struct {
	Logger *slog.Logger
}

func (d DefaultErrorResponder) Respond(_ context.Context, ic *Context, resp Response, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.New(errs.UnknownInternal).WithDevMessage(err.Error())
	}
	ic.Extensions["last_error_labels"] = e.LabelsView()
	if d.Logger != nil {
		d.Logger.Warn("interceptor chain error",
			"code", e.Code, "request_id", ic.RequestID, "dev_message", e.DevMessage)
	}

	body, marshalErr := json.Marshal(e.ToPublic())
	if marshalErr != nil {
		body = []byte(`{"code":"UNKNOWN.INTERNAL","message":"failed to render error"}`)
	}
	resp.SetStatus(e.HTTPStatus)
	resp.SetHeader("Content-Type", "application/json")
	_, _ = resp.Write(body)
}

// Chain is the full ordered pipeline: request stages, the resilience-
// wrapped handler behind an optional concurrency limiter, and response
// stages, with idempotency replay/record-on-success bracketing the
// handler call.
type Chain struct {
	RequestStages  []Stage
	ResponseStages []ResponseStage
	Resilience     ResiliencePolicy
	Limiter        *ConcurrencyLimiter // nil means unlimited
	ErrorResponder ErrorResponder
	Idempotency    *IdempotencyLayer // nil disables the idempotency stage's store-on-success step
	MaxBodyBytes   int               // 0 means unbounded
}

// Run drives req/resp through the chain. Per the chain's short-circuit
// contract, stage-level and handler-level errors never propagate out of
// Run: they are always handed to ErrorResponder and Run returns nil.
func (c *Chain) Run(ctx context.Context, req Request, resp Response, handler Handler) error {
	ic := NewContext()

	shortCircuited := false
	for _, stage := range c.RequestStages {
		outcome, err := stage.HandleRequest(ctx, req, ic)
		if err != nil {
			c.respondError(ctx, ic, resp, err)
			return nil
		}
		if outcome == ShortCircuit {
			shortCircuited = true
			break
		}
	}

	if !shortCircuited && !ic.IdempotencyReplay {
		if c.Limiter != nil && !c.Limiter.TryAcquire() {
			concurrencyRejectedTotal.Inc()
			c.respondError(ctx, ic, resp, errs.New(errs.QuotaRateLimited).WithDevMessage("concurrency limit exhausted"))
			return nil
		}
		if c.Limiter != nil {
			defer c.Limiter.Release()
		}

		body, err := c.Resilience.Execute(ctx, func(cctx context.Context) ([]byte, error) {
			return handler(cctx, ic)
		})
		if err != nil {
			c.respondError(ctx, ic, resp, err)
			return nil
		}
		ic.ResponseBody = body
	}

	for _, stage := range c.ResponseStages {
		if err := stage.HandleResponse(ctx, ic); err != nil {
			c.respondError(ctx, ic, resp, err)
			return nil
		}
	}

	if c.Idempotency != nil && ic.IdempotencyKey != nil && !ic.IdempotencyReplay {
		if c.MaxBodyBytes > 0 && len(ic.ResponseBody) > c.MaxBodyBytes {
			c.respondError(ctx, ic, resp, errs.New(errs.SchemaValidationFailed).WithDevMessage("response body exceeds max_body_size"))
			return nil
		}
		if err := c.Idempotency.Store.Put(ctx, *ic.IdempotencyKey, ic.ResponseStatus, ic.ResponseHeaders, ic.ResponseBody); err != nil {
			c.respondError(ctx, ic, resp, err)
			return nil
		}
	}

	resp.SetStatus(ic.ResponseStatus)
	for name, value := range ic.ResponseHeaders {
		resp.SetHeader(name, value)
	}
	_, _ = resp.Write(ic.ResponseBody)

	outcome := "ok"
	if ic.IdempotencyReplay {
		outcome = "replay"
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	return nil
}

func (c *Chain) respondError(ctx context.Context, ic *Context, resp Response, err error) {
	responder := c.ErrorResponder
	if responder == nil {
		responder = DefaultErrorResponder{}
	}
	responder.Respond(ctx, ic, resp, err)
	requestsTotal.WithLabelValues("error").Inc()
}

// ConcurrencyLimiter bounds the number of in-flight Handler invocations.
type ConcurrencyLimiter struct {
	sem chan struct{}
}

// NewConcurrencyLimiter builds a limiter admitting at most max concurrent
// permits. max == 0 means unlimited, returned as a nil *ConcurrencyLimiter
// so callers can wire it straight into Chain.Limiter.
func NewConcurrencyLimiter(max uint32) *ConcurrencyLimiter {
	if max == 0 {
		return nil
	}
	return &ConcurrencyLimiter{sem: make(chan struct{}, max)}
}

func (l *ConcurrencyLimiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *ConcurrencyLimiter) Release() {
	<-l.sem
}
