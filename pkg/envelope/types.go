// Package envelope holds the wire-level identity and framing types shared
// across the interceptor chain, authorization facade, and transactional
// substrate: tenant/subject identifiers, scopes, consent, and the Envelope
// wrapper itself.
package envelope

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TenantID is an opaque, non-empty tenant identifier.
type TenantID string

// SubjectID is an opaque, non-empty principal identifier.
type SubjectID string

// SubjectKind distinguishes the three principal shapes the platform admits.
type SubjectKind string

const (
	SubjectUser    SubjectKind = "User"
	SubjectService SubjectKind = "Service"
	SubjectAgent   SubjectKind = "Agent"
)

// Subject is the authenticated principal attached to a request.
type Subject struct {
	Kind      SubjectKind
	SubjectID SubjectID
	Tenant    TenantID
	Claims    map[string]any
}

// Validate enforces the one hard invariant on Subject: tenant is non-empty.
func (s Subject) Validate() error {
	if strings.TrimSpace(string(s.Tenant)) == "" {
		return fmt.Errorf("envelope: subject tenant must be non-empty")
	}
	return nil
}

// Scope is a (resource, action, attrs) tuple granted by a Consent.
type Scope struct {
	Resource string
	Action   string
	Attrs    map[string]any
}

func (s Scope) Validate() error {
	if s.Resource == "" || s.Action == "" {
		return fmt.Errorf("envelope: scope resource and action must be non-empty")
	}
	return nil
}

// Consent is a subject-delegated permission set, decoded from an opaque
// per-request token (base64 JSON of this struct on the wire).
type Consent struct {
	Scopes    []Scope
	ExpiresAt *time.Time
	Purpose   string
}

// Expired reports whether the consent's expiry has passed as of now.
func (c Consent) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// HasScope reports whether the consent grants exactly (resource, action).
func (c Consent) HasScope(resource, action string) bool {
	for _, sc := range c.Scopes {
		if sc.Resource == resource && sc.Action == action {
			return true
		}
	}
	return false
}

// Superset reports whether c's scopes are a superset of required.
func (c Consent) Superset(required []Scope) bool {
	for _, req := range required {
		if !c.HasScope(req.Resource, req.Action) {
			return false
		}
	}
	return true
}

// Actor identifies who produced an Envelope, used to derive partition_key.
type Actor struct {
	Tenant    TenantID
	SubjectID SubjectID
}

// Envelope is the immutable wire message wrapper created at a system
// boundary. T is the typed payload.
type Envelope[T any] struct {
	EnvelopeID   string
	ProducedAt   time.Time
	PartitionKey string
	Actor        Actor
	SchemaVer    string // semver
	Payload      T
}

// New creates an Envelope and validates partition_key against actor.tenant.
func New[T any](actor Actor, partitionKey, schemaVer string, payload T) (Envelope[T], error) {
	env := Envelope[T]{
		EnvelopeID:   uuid.NewString(),
		ProducedAt:   time.Now().UTC(),
		PartitionKey: partitionKey,
		Actor:        actor,
		SchemaVer:    schemaVer,
		Payload:      payload,
	}
	if err := env.Validate(); err != nil {
		return Envelope[T]{}, err
	}
	return env, nil
}

// Validate enforces invariant 1 from the testable-properties list:
// partition_key must start with actor.tenant.
func (e Envelope[T]) Validate() error {
	if !strings.HasPrefix(e.PartitionKey, string(e.Actor.Tenant)) {
		return fmt.Errorf("envelope: partition_key %q does not start with actor tenant %q", e.PartitionKey, e.Actor.Tenant)
	}
	return nil
}

// ResourceURN is a hierarchical resource name, e.g. "soul:tool:browser".
type ResourceURN string

// Action is the enumerated set of operations an authorization request can
// name.
type Action string

const (
	ActionRead      Action = "Read"
	ActionWrite     Action = "Write"
	ActionInvoke    Action = "Invoke"
	ActionList      Action = "List"
	ActionAdmin     Action = "Admin"
	ActionConfigure Action = "Configure"
)
