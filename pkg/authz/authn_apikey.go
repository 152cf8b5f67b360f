package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

// APIKeyRecord is what an APIKeyStore resolves a hashed key to.
type APIKeyRecord struct {
	SubjectID envelope.SubjectID
	Tenant    envelope.TenantID
	Role      string
	ExpiresAt *time.Time
}

// APIKeyStore abstracts API-key lookup so this package stays storage
// agnostic; a pgx-backed implementation lives alongside the tx SPI store.
type APIKeyStore interface {
	LookupByHash(ctx context.Context, hash string) (APIKeyRecord, error)
	TouchLastUsed(ctx context.Context, hash string)
}

// HashAPIKey hashes a raw key for lookup/storage, grounded on the teacher's
// HashAPIKey helper (internal/auth/apikey.go) — SHA256 over the raw key so
// the plaintext key is never persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator validates the ApiKey AuthnInput variant against an
// APIKeyStore, grounded on internal/auth/apikey.go.
type APIKeyAuthenticator struct {
	Store  APIKeyStore
	Logger *slog.Logger
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, input AuthnInput) (envelope.Subject, error) {
	if input.Kind != AuthnAPIKey || input.APIKey == "" {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("no API key presented")
	}

	hash := HashAPIKey(input.APIKey)
	record, err := a.Store.LookupByHash(ctx, hash)
	if err != nil {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage(fmt.Sprintf("looking up API key: %v", err)).WithCause(err)
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now()) {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("API key expired")
	}

	go a.Store.TouchLastUsed(context.Background(), hash)

	return envelope.Subject{
		Kind:      envelope.SubjectService,
		SubjectID: record.SubjectID,
		Tenant:    record.Tenant,
		Claims:    map[string]any{"role": record.Role},
	}, nil
}

// ServiceTokenAuthenticator validates the ServiceToken AuthnInput variant
// against a static shared-secret map, for trusted service-to-service calls
// (mTLS termination is assumed to happen upstream of this process).
type ServiceTokenAuthenticator struct {
	Tokens map[string]envelope.Subject // token -> subject
}

func (a *ServiceTokenAuthenticator) Authenticate(ctx context.Context, input AuthnInput) (envelope.Subject, error) {
	if input.Kind != AuthnServiceToken || input.ServiceToken == "" {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("no service token presented")
	}
	subject, ok := a.Tokens[input.ServiceToken]
	if !ok {
		return envelope.Subject{}, errs.New(errs.AuthUnauthenticated).WithDevMessage("unrecognized service token")
	}
	return subject, nil
}
