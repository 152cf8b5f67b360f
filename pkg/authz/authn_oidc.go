package authz

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

// OIDCClaims are the JWT claims extracted from a verified OIDC bearer token.
type OIDCClaims struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	TenantSlug string `json:"tenant_slug"`
	Role       string `json:"role"`
}

// OIDCAuthenticator validates OIDC-issued bearer JWTs, grounded on the
// teacher's vendored OIDCAuthenticator (discovery + ID token verification).
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("authz: discovering OIDC provider %s: %w", issuerURL, err)
	}
	return &OIDCAuthenticator{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		provider: provider,
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, input AuthnInput) (envelope.Subject, error) {
	if input.Kind != AuthnBearer || input.BearerToken == "" {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("no bearer token presented")
	}

	idToken, err := a.verifier.Verify(ctx, input.BearerToken)
	if err != nil {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage(fmt.Sprintf("verifying OIDC token: %v", err)).WithCause(err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage(fmt.Sprintf("extracting OIDC claims: %v", err)).WithCause(err)
	}
	if claims.Subject == "" || claims.TenantSlug == "" {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("OIDC token missing sub or tenant_slug claim")
	}

	return envelope.Subject{
		Kind:      envelope.SubjectUser,
		SubjectID: envelope.SubjectID(claims.Subject),
		Tenant:    envelope.TenantID(claims.TenantSlug),
		Claims: map[string]any{
			"email": claims.Email,
			"role":  claims.Role,
		},
	}, nil
}
