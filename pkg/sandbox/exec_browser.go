package sandbox

import (
	"context"

	"github.com/wisbric/agentcore/pkg/errs"
)

// BrowserExecutor plans browser navigation/screenshot actions; like
// NetExecutor it reports what would happen rather than driving a real
// browser, leaving that integration to whatever runs downstream.
type BrowserExecutor struct{}

func (BrowserExecutor) Kind() CapabilityKind { return CapBrowserUse }

func (e BrowserExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if ectx.Cancel != nil && ectx.Cancel.IsCancelled() {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("execution cancelled")
	}
	switch op.Kind {
	case OpBrowserNav:
		usage := ExecUsage{Calls: 1}
		sideEffects := []SideEffectRecord{{Kind: SideEffectBrowser, Meta: map[string]any{"action": "navigate", "url": op.URL}}}
		return ExecSuccess(map[string]any{"navigated_to": op.URL}, usage, sideEffects), nil
	case OpBrowserScreenshot:
		if ectx.Profile.Limits.MaxBytesIn != nil && *ectx.Profile.Limits.MaxBytesIn == 0 {
			return ExecFailure(string(errs.PolicyDenyTool), "browser screenshot disabled by policy"), nil
		}
		usage := ExecUsage{Calls: 1}
		sideEffects := []SideEffectRecord{{
			Kind: SideEffectBrowser,
			Meta: map[string]any{"action": "screenshot", "selector": op.Selector, "full_page": op.FullPage},
		}}
		out := map[string]any{"screenshot": map[string]any{"selector": op.Selector, "full_page": op.FullPage}}
		return ExecSuccess(out, usage, sideEffects), nil
	default:
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("operation not supported by BrowserExecutor")
	}
}
