package interceptor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/errs"
)

// ObligationsStage applies the decision obligations collected by
// AuthzQuota to the buffered response body: mask replaces a path's
// value, redact deletes it, watermark stamps a marker object in. Unknown
// kinds are ignored for forward compatibility; a missing target path
// raises POLICY.DENY_TOOL.
type ObligationsStage struct{}

func (ObligationsStage) Name() string { return "Obligations" }

func (ObligationsStage) HandleResponse(_ context.Context, ic *Context) error {
	if len(ic.Obligations) == 0 || ic.IdempotencyReplay || len(ic.ResponseBody) == 0 {
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal(ic.ResponseBody, &doc); err != nil {
		// Non-JSON bodies have no path-addressable targets; obligations
		// that need one would have nothing to apply to, so skip them.
		return nil
	}

	for _, ob := range ic.Obligations {
		switch ob.Kind {
		case authz.ObligationMask:
			if err := applyMask(doc, ob.Params); err != nil {
				return err
			}
		case authz.ObligationRedact:
			if err := applyRedact(doc, ob.Params); err != nil {
				return err
			}
		case authz.ObligationWatermark:
			applyWatermark(doc, ob.Params)
		default:
			// unknown obligation kind: ignored
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("re-serializing obligation-transformed response: " + err.Error())
	}
	ic.ResponseBody = out
	return nil
}

func applyMask(doc map[string]any, params map[string]any) error {
	path, _ := params["path"].(string)
	replacement := params["replacement"]
	parent, key, ok := navigateToParent(doc, path)
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("mask obligation target not found: " + path)
	}
	parent[key] = replacement
	return nil
}

func applyRedact(doc map[string]any, params map[string]any) error {
	path, _ := params["path"].(string)
	parent, key, ok := navigateToParent(doc, path)
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("redact obligation target not found: " + path)
	}
	delete(parent, key)
	return nil
}

func applyWatermark(doc map[string]any, params map[string]any) {
	mark := params["mark"]
	if mark == nil {
		mark = true
	}
	doc["_watermark"] = mark
}

// navigateToParent walks a dot-separated path to the object that holds
// path's final segment, returning that object and the final key.
func navigateToParent(doc map[string]any, path string) (map[string]any, string, bool) {
	if path == "" {
		return nil, "", false
	}
	segments := strings.Split(path, ".")
	cursor := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cursor[seg].(map[string]any)
		if !ok {
			return nil, "", false
		}
		cursor = next
	}
	last := segments[len(segments)-1]
	if _, present := cursor[last]; !present {
		return nil, "", false
	}
	return cursor, last, true
}
