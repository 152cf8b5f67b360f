package interceptor

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

// decodeConsentToken decodes the X-Consent-Token header value per
// envelope.Consent's wire contract: base64 JSON of the struct.
func decodeConsentToken(raw string) (*envelope.Consent, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var consent envelope.Consent
	if err := json.Unmarshal(data, &consent); err != nil {
		return nil, err
	}
	return &consent, nil
}

// AuthzQuotaStage builds an authz.AuthContext from the route binding,
// consent token, and correlation id, and invokes the Facade, collecting
// any decision obligations into ic.Obligations for the response-half
// Obligations stage to apply.
type AuthzQuotaStage struct {
	Facade *authz.Facade
}

func (AuthzQuotaStage) Name() string { return "AuthzQuota" }

func (s AuthzQuotaStage) HandleRequest(ctx context.Context, _ Request, ic *Context) (StageOutcome, error) {
	if ic.Route == nil {
		return Continue, errs.New(errs.PolicyDenyTool).WithDevMessage("authz requires a bound route")
	}

	var consent *envelope.Consent
	if ic.ConsentToken != "" {
		decoded, err := decodeConsentToken(ic.ConsentToken)
		if err != nil {
			return Continue, errs.New(errs.AuthForbidden).WithDevMessage("invalid consent token: " + err.Error())
		}
		consent = decoded
	}

	result, err := s.Facade.Authorize(ctx, authz.AuthContext{
		Input:         ic.AuthInput,
		Resource:      ic.Route.Resource,
		Action:        ic.Route.Action,
		Attrs:         authz.AttributeMap(ic.Route.Attrs),
		Consent:       consent,
		CorrelationID: ic.Seed.CorrelationID,
		TenantHeader:  ic.TenantHeader,
	})
	if err != nil {
		return Continue, err
	}

	if !result.Decision.Allow {
		return Continue, errs.New(errs.PolicyDenyTool).WithDevMessage(result.Decision.Reason)
	}

	ic.Subject = &result.Subject
	ic.Obligations = result.Decision.Obligations
	return Continue, nil
}
