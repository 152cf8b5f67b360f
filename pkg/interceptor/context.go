// Package interceptor implements the Interceptor Chain: the per-request
// pipeline that establishes context, binds routes, enforces schema,
// authenticates, authorizes with quota, ensures idempotent replay, and
// stamps responses, around a user handler wrapped in a resilience policy.
package interceptor

import (
	"context"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/envelope"
)

// EnvelopeSeed is the correlation/causation/partition tuple the
// ContextInit stage derives for every request, matching the fields
// envelope.Envelope itself carries so a handler can promote it into a
// full Envelope without re-deriving anything.
type EnvelopeSeed struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
	ProducedAtMs  int64
}

// Request is the transport-agnostic view of an inbound request a Stage
// operates on. Implementations read the body at most once and cache it,
// mirroring the adapter pattern in the reference's http adapter.
type Request interface {
	Method() string
	Path() string
	Header(name string) string
	Body(ctx context.Context) ([]byte, error)
}

// Response is the transport-agnostic sink the chain flushes its buffered
// status/headers/body into exactly once, after every response stage has
// had a chance to rewrite the buffer.
type Response interface {
	SetStatus(code int)
	SetHeader(name, value string)
	Write(body []byte) (int, error)
}

// Context is the per-request state threaded through every stage,
// equivalent to the reference's InterceptContext.
type Context struct {
	RequestID     string
	TraceID       string
	TenantHeader  envelope.TenantID
	ConsentToken  string
	ConfigVersion *string
	ConfigCheck   *string

	Route   *RouteBinding
	Subject *envelope.Subject

	AuthInput   authz.AuthnInput
	Obligations []authz.Obligation

	Seed EnvelopeSeed

	RequestBody []byte

	IdempotencyKey    *string
	IdempotencyReplay bool

	ResponseStatus  int
	ResponseHeaders map[string]string
	ResponseBody    []byte

	Extensions map[string]any
}

// NewContext builds a zeroed Context ready for the chain's first stage.
func NewContext() *Context {
	return &Context{
		ResponseStatus:  200,
		ResponseHeaders: map[string]string{},
		Extensions:      map[string]any{},
	}
}
