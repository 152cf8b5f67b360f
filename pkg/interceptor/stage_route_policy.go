package interceptor

import (
	"context"
	"encoding/json"
)

// RoutePolicyStage matches method+path against a RoutePolicy's declared
// rules and binds (resource, action, attrs_from_body) into ic.Route.
// An unmatched request raises POLICY.DENY_TOOL.
type RoutePolicyStage struct {
	Policy RoutePolicy
}

func (RoutePolicyStage) Name() string { return "RoutePolicy" }

func (s RoutePolicyStage) HandleRequest(ctx context.Context, req Request, ic *Context) (StageOutcome, error) {
	rule, ok := s.Policy.Match(req.Method(), req.Path())
	if !ok {
		return Continue, errUnmatchedRoute
	}

	attrs := map[string]any{}
	if len(rule.Binding.AttrsFromBody) > 0 {
		body, err := req.Body(ctx)
		if err == nil && len(body) > 0 {
			var decoded map[string]any
			if json.Unmarshal(body, &decoded) == nil {
				for _, field := range rule.Binding.AttrsFromBody {
					if v, present := decoded[field]; present {
						attrs[field] = v
					}
				}
			}
		}
	}

	ic.Route = &RouteBinding{
		Resource:       rule.Binding.Resource,
		Action:         rule.Binding.Action,
		Attrs:          attrs,
		RequestSchema:  rule.Binding.RequestSchema,
		ResponseSchema: rule.Binding.ResponseSchema,
	}
	return Continue, nil
}
