package authz

import (
	"context"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// AuthnInputKind tags which credential variant is present on a request.
type AuthnInputKind string

const (
	AuthnBearer       AuthnInputKind = "Bearer"
	AuthnAPIKey       AuthnInputKind = "ApiKey"
	AuthnServiceToken AuthnInputKind = "ServiceToken"
)

// AuthnInput is the tagged credential the interceptor chain's AuthnMap
// stage extracts from the request and hands to the Authenticator.
type AuthnInput struct {
	Kind         AuthnInputKind
	BearerToken  string // Kind == Bearer: raw JWT/opaque token
	APIKey       string // Kind == ApiKey: raw API key
	ServiceToken string // Kind == ServiceToken: mTLS/service credential
}

// Authenticator turns a credential into an authenticated Subject, or fails
// with AUTH.UNAUTHENTICATED.
type Authenticator interface {
	Authenticate(ctx context.Context, input AuthnInput) (envelope.Subject, error)
}

// ChainAuthenticator tries each Authenticator in order and returns the
// first success, mirroring the teacher's bearer→session→OIDC→API-key→dev
// fallback chain in internal/auth/middleware.go, generalized to the
// variant-tagged AuthnInput model.
type ChainAuthenticator struct {
	Authenticators []Authenticator
}

func (c *ChainAuthenticator) Authenticate(ctx context.Context, input AuthnInput) (envelope.Subject, error) {
	var lastErr error
	for _, a := range c.Authenticators {
		subject, err := a.Authenticate(ctx, input)
		if err == nil {
			return subject, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errUnauthenticated
	}
	return envelope.Subject{}, lastErr
}
