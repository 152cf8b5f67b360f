package interceptor

import (
	"strings"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

// MatchCond is one route-matching condition. Http is the only variant
// implemented, mirroring the reference policy DSL's MatchCond::Http —
// other transports would add their own variants rather than overload
// this one.
type MatchCond struct {
	Method string // exact, case-insensitive; "" matches any method
	Path   string // chi-style template, e.g. "/v1/tools/{id}/invoke"
}

// matches reports whether method/path satisfy cond, expanding {param}
// segments in Path as single-segment wildcards.
func (cond MatchCond) matches(method, path string) bool {
	if cond.Method != "" && !strings.EqualFold(cond.Method, method) {
		return false
	}
	want := splitPath(cond.Path)
	got := splitPath(path)
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// FieldRule is one field's validation rule within a route-declared
// request/response schema, applied with validator.Var against the
// decoded JSON value at that key — the same vocabulary pkg/tools uses
// for tool manifests, generalized here to HTTP route bodies.
type FieldRule struct {
	Name     string
	Required bool
	Rule     string // validator/v10 tag syntax
}

// RouteBindingSpec is the static declaration one RouteRule binds a
// matched request to.
type RouteBindingSpec struct {
	Resource       envelope.ResourceURN
	Action         envelope.Action
	AttrsFromBody  []string // body fields copied verbatim into AuthContext.Attrs
	RequestSchema  []FieldRule
	ResponseSchema []FieldRule
}

// RouteRule pairs a match condition with the binding it produces.
type RouteRule struct {
	Match   MatchCond
	Binding RouteBindingSpec
}

// RouteBinding is the resolved binding a matched request carries for the
// rest of the chain.
type RouteBinding struct {
	Resource       envelope.ResourceURN
	Action         envelope.Action
	Attrs          map[string]any
	RequestSchema  []FieldRule
	ResponseSchema []FieldRule
}

// RoutePolicy is the ordered set of declared route rules; the first
// matching rule wins.
type RoutePolicy struct {
	Rules []RouteRule
}

// Match returns the first rule whose condition matches (method, path).
func (p RoutePolicy) Match(method, path string) (RouteRule, bool) {
	for _, rule := range p.Rules {
		if rule.Match.matches(method, path) {
			return rule, true
		}
	}
	return RouteRule{}, false
}

var errUnmatchedRoute = errs.New(errs.PolicyDenyTool).WithDevMessage("no route policy rule matched this request")
