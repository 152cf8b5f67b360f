package interceptor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/envelope"
)

type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func (r *fakeRequest) Method() string                       { return r.method }
func (r *fakeRequest) Path() string                         { return r.path }
func (r *fakeRequest) Header(name string) string            { return r.headers[name] }
func (r *fakeRequest) Body(context.Context) ([]byte, error) { return r.body, nil }

type fakeResponse struct {
	status  int
	headers map[string]string
	body    []byte
}

func newFakeResponse() *fakeResponse { return &fakeResponse{headers: map[string]string{}} }

func (r *fakeResponse) SetStatus(code int)           { r.status = code }
func (r *fakeResponse) SetHeader(name, value string) { r.headers[name] = value }
func (r *fakeResponse) Write(body []byte) (int, error) {
	r.body = body
	return len(body), nil
}

type stubAuthenticator struct {
	subject envelope.Subject
}

func (s stubAuthenticator) Authenticate(context.Context, authz.AuthnInput) (envelope.Subject, error) {
	return s.subject, nil
}

type stubAttrs struct{}

func (stubAttrs) AttributesFor(context.Context, envelope.Subject, envelope.ResourceURN) authz.AttributeMap {
	return authz.AttributeMap{}
}

type stubAuthorizer struct{ decision authz.Decision }

func (s stubAuthorizer) Decide(context.Context, authz.AuthzRequest) (authz.Decision, error) {
	return s.decision, nil
}

type stubConsent struct{}

func (stubConsent) Verify(context.Context, envelope.Consent, authz.AuthzRequest) (bool, error) {
	return true, nil
}

type stubQuota struct{}

func (stubQuota) CheckAndConsume(context.Context, authz.QuotaKey, int64) (authz.QuotaOutcome, error) {
	return authz.QuotaAllowed, nil
}

type stubCache struct{}

func (stubCache) Get(context.Context, authz.DecisionKey) (authz.Decision, bool) {
	return authz.Decision{}, false
}
func (stubCache) Put(context.Context, authz.DecisionKey, authz.Decision) {}

func buildTestChain(decision authz.Decision) *Chain {
	facade := &authz.Facade{
		Authenticator: stubAuthenticator{subject: envelope.Subject{Kind: envelope.SubjectUser, SubjectID: "sub-1", Tenant: "tenant-a"}},
		AttrProvider:  stubAttrs{},
		Authorizer:    stubAuthorizer{decision: decision},
		Consent:       stubConsent{},
		Quota:         stubQuota{},
		Cache:         stubCache{},
	}

	policy := RoutePolicy{Rules: []RouteRule{
		{
			Match: MatchCond{Method: "POST", Path: "/v1/widgets/{id}"},
			Binding: RouteBindingSpec{
				Resource:      "urn:widget",
				Action:        envelope.ActionWrite,
				AttrsFromBody: []string{"size"},
				RequestSchema: []FieldRule{{Name: "size", Required: true, Rule: "min=1"}},
			},
		},
	}}

	return &Chain{
		RequestStages: []Stage{
			ContextInitStage{},
			RoutePolicyStage{Policy: policy},
			SchemaGuardStage{},
			IdempotencyStage{},
			AuthnMapStage{Authenticator: facade.Authenticator},
			AuthzQuotaStage{Facade: facade},
		},
		ResponseStages: []ResponseStage{
			SchemaGuardStage{},
			ObligationsStage{},
			ResponseStampStage{},
		},
		Resilience: DefaultResiliencePolicy(),
	}
}

func TestChainRunsHandlerOnAllow(t *testing.T) {
	chain := buildTestChain(authz.Decision{Allow: true})
	req := &fakeRequest{
		method:  "POST",
		path:    "/v1/widgets/abc",
		headers: map[string]string{"X-Soul-Tenant": "tenant-a", "Authorization": "Bearer tok"},
		body:    []byte(`{"size": 3}`),
	}
	resp := newFakeResponse()

	handlerCalled := false
	err := chain.Run(context.Background(), req, resp, func(ctx context.Context, ic *Context) ([]byte, error) {
		handlerCalled = true
		return json.Marshal(map[string]any{"ok": true})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !handlerCalled {
		t.Fatal("expected handler to be invoked")
	}
	if resp.status != 200 {
		t.Fatalf("expected status 200, got %d", resp.status)
	}
	if resp.headers[RequestIDHeaderName] == "" {
		t.Fatal("expected X-Request-Id to be stamped")
	}
}

func TestChainDeniesOnPolicyDeny(t *testing.T) {
	chain := buildTestChain(authz.Decision{Allow: false, Reason: "nope"})
	req := &fakeRequest{
		method:  "POST",
		path:    "/v1/widgets/abc",
		headers: map[string]string{"X-Soul-Tenant": "tenant-a", "Authorization": "Bearer tok"},
		body:    []byte(`{"size": 3}`),
	}
	resp := newFakeResponse()

	handlerCalled := false
	err := chain.Run(context.Background(), req, resp, func(ctx context.Context, ic *Context) ([]byte, error) {
		handlerCalled = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if handlerCalled {
		t.Fatal("handler must not run when authz denies")
	}
	if resp.status != 403 {
		t.Fatalf("expected status 403, got %d", resp.status)
	}
}

func TestChainRejectsUnmatchedRoute(t *testing.T) {
	chain := buildTestChain(authz.Decision{Allow: true})
	req := &fakeRequest{method: "GET", path: "/v1/does-not-exist", headers: map[string]string{}}
	resp := newFakeResponse()

	if err := chain.Run(context.Background(), req, resp, func(context.Context, *Context) ([]byte, error) {
		t.Fatal("handler must not run for an unmatched route")
		return nil, nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.status != 403 {
		t.Fatalf("expected 403 for an unmatched route, got %d", resp.status)
	}
}

func TestChainRejectsMissingRequiredField(t *testing.T) {
	chain := buildTestChain(authz.Decision{Allow: true})
	req := &fakeRequest{
		method:  "POST",
		path:    "/v1/widgets/abc",
		headers: map[string]string{"X-Soul-Tenant": "tenant-a", "Authorization": "Bearer tok"},
		body:    []byte(`{}`),
	}
	resp := newFakeResponse()

	if err := chain.Run(context.Background(), req, resp, func(context.Context, *Context) ([]byte, error) {
		t.Fatal("handler must not run when the request schema rejects the body")
		return nil, nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.status != 422 {
		t.Fatalf("expected 422 for a missing required field, got %d", resp.status)
	}
}
