package authz

import (
	"context"
	"strings"
)

// RolePermission grants a role one (resource, action) pair. Resource and
// Action both accept "*" as a wildcard; Resource additionally accepts a
// trailing "*" as a prefix match (e.g. "urn:tool:*").
type RolePermission struct {
	Resource string
	Action   string
}

func (p RolePermission) matches(resource, action string) bool {
	if p.Action != "*" && p.Action != action {
		return false
	}
	if p.Resource == "*" {
		return true
	}
	if strings.HasSuffix(p.Resource, "*") {
		return strings.HasPrefix(resource, strings.TrimSuffix(p.Resource, "*"))
	}
	return p.Resource == resource
}

// RoleAuthorizer is a static role-to-permission table, the policy decision
// point wired in production deployments that don't run a standalone policy
// engine. It reads the role claim the way OIDCAuthenticator and
// APIKeyAuthenticator both populate it (Subject.Claims["role"]).
type RoleAuthorizer struct {
	Roles map[string][]RolePermission
}

func (a *RoleAuthorizer) Decide(ctx context.Context, req AuthzRequest) (Decision, error) {
	role, _ := req.Subject.Claims["role"].(string)
	if role == "" {
		return Deny("subject has no role claim"), nil
	}

	perms, ok := a.Roles[role]
	if !ok {
		return Deny("role has no permission table entry"), nil
	}

	for _, perm := range perms {
		if perm.matches(string(req.Resource), string(req.Action)) {
			return AllowDefault(), nil
		}
	}
	return Deny("role does not grant the requested resource/action"), nil
}
