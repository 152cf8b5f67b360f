package authz

import (
	"context"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// DefaultConsentVerifier enforces expiry and an exact (resource, action)
// scope match, per spec §4.2 item 5.
type DefaultConsentVerifier struct {
	Now func() time.Time
}

func NewDefaultConsentVerifier() *DefaultConsentVerifier {
	return &DefaultConsentVerifier{Now: time.Now}
}

func (v *DefaultConsentVerifier) Verify(ctx context.Context, consent envelope.Consent, req AuthzRequest) (bool, error) {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if consent.Expired(now) {
		return false, nil
	}
	return consent.HasScope(string(req.Resource), string(req.Action)), nil
}

// StaticAttributeProvider returns a fixed attribute set regardless of
// subject/resource; a stand-in for richer policy-data lookups (LDAP
// groups, tenant plan tier, etc.) that this core does not concern itself
// with — callers plug in their own AttributeProvider.
type StaticAttributeProvider struct {
	Attrs AttributeMap
}

func (p *StaticAttributeProvider) AttributesFor(ctx context.Context, subject envelope.Subject, resource envelope.ResourceURN) AttributeMap {
	return p.Attrs
}
