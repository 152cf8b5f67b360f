package interceptor

import (
	"context"
	"strings"

	"github.com/wisbric/agentcore/pkg/authz"
)

// AuthnMapStage parses the Authorization header (case-insensitive
// "Bearer" scheme) into a tagged authz.AuthnInput and authenticates it
// into a subject, leaving ApiKey/ServiceToken variants to X-API-Key /
// X-Service-Token for callers that front this chain with those
// credential kinds instead of a bearer token.
type AuthnMapStage struct {
	Authenticator authz.Authenticator
}

func (AuthnMapStage) Name() string { return "AuthnMap" }

func (s AuthnMapStage) HandleRequest(ctx context.Context, req Request, ic *Context) (StageOutcome, error) {
	input := parseAuthnInput(req)
	ic.AuthInput = input

	subject, err := s.Authenticator.Authenticate(ctx, input)
	if err != nil {
		return Continue, err
	}
	ic.Subject = &subject
	return Continue, nil
}

func parseAuthnInput(req Request) authz.AuthnInput {
	if auth := req.Header("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return authz.AuthnInput{Kind: authz.AuthnBearer, BearerToken: strings.TrimSpace(auth[7:])}
		}
	}
	if key := req.Header("X-Api-Key"); key != "" {
		return authz.AuthnInput{Kind: authz.AuthnAPIKey, APIKey: key}
	}
	if tok := req.Header("X-Service-Token"); tok != "" {
		return authz.AuthnInput{Kind: authz.AuthnServiceToken, ServiceToken: tok}
	}
	return authz.AuthnInput{}
}
