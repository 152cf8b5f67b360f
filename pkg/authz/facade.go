package authz

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

var errUnauthenticated = errs.New(errs.AuthUnauthenticated)

// AttributeProvider enriches (subject, resource) into an attribute map,
// independent of whatever attrs the caller supplied on the request.
type AttributeProvider interface {
	AttributesFor(ctx context.Context, subject envelope.Subject, resource envelope.ResourceURN) AttributeMap
}

// Authorizer is the pluggable policy decision point.
type Authorizer interface {
	Decide(ctx context.Context, req AuthzRequest) (Decision, error)
}

// ConsentVerifier checks a decoded Consent against the request's
// (resource, action), enforcing expiry and exact scope match.
type ConsentVerifier interface {
	Verify(ctx context.Context, consent envelope.Consent, req AuthzRequest) (bool, error)
}

// QuotaOutcome is the result of a QuotaStore.CheckAndConsume call.
type QuotaOutcome string

const (
	QuotaAllowed        QuotaOutcome = "Allowed"
	QuotaRateLimited    QuotaOutcome = "RateLimited"
	QuotaBudgetExceeded QuotaOutcome = "BudgetExceeded"
)

// QuotaStore meters (tenant, subject, resource, action) consumption.
type QuotaStore interface {
	CheckAndConsume(ctx context.Context, key QuotaKey, cost int64) (QuotaOutcome, error)
}

// DecisionCache caches Decisions keyed by DecisionKey with TTL=0 meaning
// "never expire while present".
type DecisionCache interface {
	Get(ctx context.Context, key DecisionKey) (Decision, bool)
	Put(ctx context.Context, key DecisionKey, decision Decision)
}

// AuthContext is the per-request input to Facade.Authorize, built by the
// interceptor chain's AuthzQuota stage from the route binding, consent
// token, and correlation id.
type AuthContext struct {
	Input         AuthnInput
	Resource      envelope.ResourceURN
	Action        envelope.Action
	Attrs         AttributeMap
	Consent       *envelope.Consent
	CorrelationID string
	Cost          int64
	TenantHeader  envelope.TenantID // tenant claimed by the request header
}

// Result bundles the authenticated subject with the authorization verdict.
type Result struct {
	Subject  envelope.Subject
	Decision Decision
}

// Facade composes the six collaborators behind one Authorize call, in the
// mandatory order: authenticate → attrs → cache-lookup → (on miss) decide
// → (if allow) consent → (if allow) quota → cache-put (iff cache_ttl_ms>0).
// Quota is consumed only on a fresh allow; cache hits never re-meter.
type Facade struct {
	Authenticator   Authenticator
	AttrProvider    AttributeProvider
	Authorizer      Authorizer
	Consent         ConsentVerifier
	Quota           QuotaStore
	Cache           DecisionCache
	Logger          *slog.Logger
}

func (f *Facade) Authorize(ctx context.Context, actx AuthContext) (Result, error) {
	subject, err := f.Authenticator.Authenticate(ctx, actx.Input)
	if err != nil {
		return Result{}, err
	}

	// Tenant-header mismatch is checked before any policy work and raises
	// AUTH.FORBIDDEN per the spec's normalization of consent-vs-tenant
	// failures (see DESIGN.md Open Question decisions).
	if actx.TenantHeader != "" && actx.TenantHeader != subject.Tenant {
		return Result{}, errs.New(errs.AuthForbidden).WithDevMessage("tenant header does not match authenticated subject")
	}

	providerAttrs := f.AttrProvider.AttributesFor(ctx, subject, actx.Resource)
	mergedAttrs := MergeJSON(providerAttrs, actx.Attrs)

	key := DecisionKey{
		Tenant:    subject.Tenant,
		SubjectID: subject.SubjectID,
		Resource:  actx.Resource,
		Action:    actx.Action,
		AttrsHash: HashAttrs(mergedAttrs),
	}

	if decision, ok := f.Cache.Get(ctx, key); ok {
		DecisionCacheHitsTotal.Inc()
		return Result{Subject: subject, Decision: decision}, nil
	}

	req := AuthzRequest{Subject: subject, Resource: actx.Resource, Action: actx.Action, Attrs: mergedAttrs}
	decision, err := f.Authorizer.Decide(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if decision.Allow && actx.Consent != nil {
		ok, err := f.Consent.Verify(ctx, *actx.Consent, req)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, errs.New(errs.PolicyDenyTool).WithDevMessage("consent invalid for requested scope")
		}
	}

	if decision.Allow {
		quotaKey := QuotaKey{Tenant: subject.Tenant, SubjectID: subject.SubjectID, Resource: actx.Resource, Action: actx.Action}
		cost := actx.Cost
		if cost == 0 {
			cost = 1
		}
		outcome, err := f.Quota.CheckAndConsume(ctx, quotaKey, cost)
		if err != nil {
			return Result{}, err
		}
		QuotaOutcomesTotal.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case QuotaAllowed:
		case QuotaRateLimited:
			return Result{}, errs.New(errs.QuotaRateLimited)
		case QuotaBudgetExceeded:
			return Result{}, errs.New(errs.QuotaBudgetExceeded)
		default:
			return Result{}, errors.New("authz: unknown quota outcome")
		}
	}

	if decision.CacheTTLMs > 0 {
		f.Cache.Put(ctx, key, decision)
	}

	DecisionsTotal.WithLabelValues(strconv.FormatBool(decision.Allow), string(actx.Resource), string(actx.Action)).Inc()

	if f.Logger != nil {
		f.Logger.Debug("authorization decision",
			"tenant", subject.Tenant,
			"subject_id", subject.SubjectID,
			"resource", actx.Resource,
			"action", actx.Action,
			"allow", decision.Allow,
			"correlation_id", actx.CorrelationID,
		)
	}

	return Result{Subject: subject, Decision: decision}, nil
}
