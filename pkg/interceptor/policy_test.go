package interceptor

import "testing"

func TestMatchCondMatchesWildcardSegment(t *testing.T) {
	cond := MatchCond{Method: "GET", Path: "/v1/widgets/{id}"}
	if !cond.matches("get", "/v1/widgets/abc-123") {
		t.Fatal("expected wildcard segment to match any value, case-insensitive method")
	}
	if cond.matches("GET", "/v1/widgets") {
		t.Fatal("expected a short path to not match")
	}
	if cond.matches("POST", "/v1/widgets/abc") {
		t.Fatal("expected method mismatch to reject the match")
	}
}

func TestRoutePolicyMatchReturnsFirstMatchingRule(t *testing.T) {
	policy := RoutePolicy{Rules: []RouteRule{
		{Match: MatchCond{Method: "GET", Path: "/v1/widgets/{id}"}, Binding: RouteBindingSpec{Resource: "urn:widget"}},
		{Match: MatchCond{Method: "GET", Path: "/v1/widgets/{id}"}, Binding: RouteBindingSpec{Resource: "urn:shadowed"}},
	}}

	rule, ok := policy.Match("GET", "/v1/widgets/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Binding.Resource != "urn:widget" {
		t.Fatalf("expected the first rule to win, got %s", rule.Binding.Resource)
	}

	if _, ok := policy.Match("DELETE", "/v1/widgets/42"); ok {
		t.Fatal("expected no match for an undeclared method")
	}
}
