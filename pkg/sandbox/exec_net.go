package sandbox

import (
	"context"
	"encoding/base64"
	"net"
	"net/url"
	"strings"

	"github.com/wisbric/agentcore/pkg/errs"
)

// NetExecutor plans an outbound HTTP call. It never performs the real
// request itself (that belongs to whatever transport the caller wires in
// downstream); its job is to enforce scheme, SSRF, and whitelist checks and
// report what would be sent, matching the "simulated" execution mode this
// layer is scoped to.
type NetExecutor struct{}

func (NetExecutor) Kind() CapabilityKind { return CapNetHttp }

func (e NetExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if ectx.Cancel != nil && ectx.Cancel.IsCancelled() {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("execution cancelled")
	}
	if op.Kind != OpNetHttp {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("operation not supported by NetExecutor")
	}

	parsed, err := url.Parse(op.URL)
	if err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "invalid url"), nil
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ExecFailure(string(errs.PolicyDenyTool), "unsupported scheme"), nil
	}
	host := parsed.Hostname()
	if host == "" {
		return ExecFailure(string(errs.PolicyDenyTool), "missing host"), nil
	}
	if res, ok := ensureDomainAllowed(ectx, host); !ok {
		return res, nil
	}
	if res, ok := ensureMethodAllowed(ectx, op.Method); !ok {
		return res, nil
	}

	var bodyBytes []byte
	if op.BodyB64 != nil {
		bodyBytes, err = base64.StdEncoding.DecodeString(*op.BodyB64)
		if err != nil {
			return ExecFailure(string(errs.PolicyDenyTool), "invalid request body"), nil
		}
	}

	if ectx.Profile.Limits.MaxBytesOut != nil && uint64(len(bodyBytes)) > *ectx.Profile.Limits.MaxBytesOut {
		return ExecFailure(string(errs.PolicyDenyTool), "request body exceeds limit"), nil
	}
	if ectx.Profile.Limits.MaxBytesIn != nil && *ectx.Profile.Limits.MaxBytesIn == 0 {
		return ExecFailure(string(errs.PolicyDenyTool), "network response forbidden"), nil
	}

	usage := ExecUsage{Calls: 1, BytesOut: uint64(len(bodyBytes))}
	sideEffects := []SideEffectRecord{{
		Kind: SideEffectNetwork,
		Meta: map[string]any{"method": op.Method, "url": op.URL, "request_bytes": usage.BytesOut},
	}}

	out := map[string]any{
		"status":               "simulated",
		"method":               op.Method,
		"url":                  op.URL,
		"headers":              op.Headers,
		"request_body_present": len(bodyBytes) > 0,
	}
	return ExecSuccess(out, usage, sideEffects), nil
}

func ensureMethodAllowed(ectx ExecCtx, method string) (ExecResult, bool) {
	methodUpper := strings.ToUpper(method)
	if len(ectx.Profile.Whitelists.Methods) == 0 {
		return ExecResult{}, true
	}
	for _, allowed := range ectx.Profile.Whitelists.Methods {
		if strings.EqualFold(allowed, methodUpper) {
			return ExecResult{}, true
		}
	}
	return ExecFailure(string(errs.PolicyDenyTool), "http method not allowed"), false
}

func ensureDomainAllowed(ectx ExecCtx, host string) (ExecResult, bool) {
	if isPrivateHost(host) {
		return ExecFailure(string(errs.PolicyDenyTool), "host resolves to private network"), false
	}
	if len(ectx.Profile.Whitelists.Domains) == 0 {
		return ExecFailure(string(errs.PolicyDenyTool), "network domains not declared"), false
	}
	for _, allowed := range ectx.Profile.Whitelists.Domains {
		if strings.HasSuffix(host, allowed) {
			return ExecResult{}, true
		}
	}
	return ExecFailure(string(errs.PolicyDenyTool), "domain not in whitelist"), false
}

// isPrivateHost blocks SSRF against loopback, link-local, and RFC1918
// ranges. A bare hostname that isn't an IP literal is allowed through to
// the domain whitelist check; DNS rebinding past the whitelist is a
// concern for whatever real HTTP client executes the plan downstream.
func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 10 ||
			(v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31) ||
			(v4[0] == 192 && v4[1] == 168) ||
			v4[0] == 127
	}
	return ip.IsPrivate()
}
