package tools

import (
	"strings"

	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

// ManifestToCapabilities derives the sandbox Capability set a manifest
// needs from its declared (domain, action, resource) triples. Domains the
// sandbox doesn't model (anything outside fs/net.http/tmp/browser/proc)
// are silently dropped, matching the declarative-only nature of a
// CapabilityDecl's domain string.
func ManifestToCapabilities(manifest ToolManifest) []sandbox.Capability {
	out := make([]sandbox.Capability, 0, len(manifest.Capabilities))
	for _, decl := range manifest.Capabilities {
		switch decl.Domain {
		case "fs":
			switch decl.Action {
			case "read":
				out = append(out, sandbox.Capability{Kind: sandbox.CapFsRead, Path: decl.Resource})
			case "write":
				out = append(out, sandbox.Capability{Kind: sandbox.CapFsWrite, Path: decl.Resource})
			case "list":
				out = append(out, sandbox.Capability{Kind: sandbox.CapFsList, Path: decl.Resource})
			}
		case "net.http":
			out = append(out, sandbox.Capability{
				Kind:    sandbox.CapNetHttp,
				Host:    decl.Resource,
				Scheme:  "https",
				Methods: []string{strings.ToUpper(decl.Action)},
			})
		case "tmp":
			out = append(out, sandbox.Capability{Kind: sandbox.CapTmpUse})
		case "browser":
			out = append(out, sandbox.Capability{Kind: sandbox.CapBrowserUse, Scope: decl.Resource})
		case "proc":
			out = append(out, sandbox.Capability{Kind: sandbox.CapProcExec, Tool: decl.Resource})
		}
	}
	return out
}

// PlanExecOps derives the concrete ExecOp sequence a call against this
// manifest will run, filling operation parameters from the call's args.
func PlanExecOps(manifest ToolManifest, args map[string]any) ([]sandbox.ExecOp, error) {
	ops := make([]sandbox.ExecOp, 0, len(manifest.Capabilities))
	for _, decl := range manifest.Capabilities {
		switch decl.Domain {
		case "net.http":
			op, err := planHTTP(decl.Action, args)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case "fs":
			switch decl.Action {
			case "read":
				op, err := planFsRead(args)
				if err != nil {
					return nil, err
				}
				ops = append(ops, op)
			case "write":
				op, err := planFsWrite(args)
				if err != nil {
					return nil, err
				}
				ops = append(ops, op)
			}
		case "tmp":
			ops = append(ops, planTmp(args))
		}
	}
	return ops, nil
}

func planHTTP(method string, args map[string]any) (sandbox.ExecOp, error) {
	url, ok := args["url"].(string)
	if !ok || url == "" {
		return sandbox.ExecOp{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("missing field: url")
	}
	headers, _ := args["headers"].(map[string]any)
	var bodyB64 *string
	if b, ok := args["body_b64"].(string); ok {
		bodyB64 = &b
	}
	return sandbox.ExecOp{
		Kind:    sandbox.OpNetHttp,
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		BodyB64: bodyB64,
	}, nil
}

func planFsRead(args map[string]any) (sandbox.ExecOp, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return sandbox.ExecOp{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("missing field: path")
	}
	return sandbox.ExecOp{
		Kind:   sandbox.OpFsRead,
		Path:   path,
		Offset: getUint64(args, "offset"),
		Len:    getUint64(args, "len"),
	}, nil
}

func planFsWrite(args map[string]any) (sandbox.ExecOp, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return sandbox.ExecOp{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("missing field: path")
	}
	content, ok := args["content_b64"].(string)
	if !ok || content == "" {
		return sandbox.ExecOp{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("missing field: content_b64")
	}
	overwrite, _ := args["overwrite"].(bool)
	return sandbox.ExecOp{
		Kind:      sandbox.OpFsWrite,
		Path:      path,
		BytesB64:  content,
		Overwrite: overwrite,
	}, nil
}

func planTmp(args map[string]any) sandbox.ExecOp {
	size := uint64(1024)
	if v := getUint64(args, "size_bytes"); v != nil {
		size = *v
	}
	return sandbox.ExecOp{Kind: sandbox.OpTmpAlloc, SizeBytes: size}
}

// getUint64 extracts an optional numeric field from a JSON-decoded args
// map, where json.Unmarshal into map[string]any always yields float64.
func getUint64(args map[string]any, key string) *uint64 {
	v, ok := args[key]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok || f < 0 {
		return nil
	}
	u := uint64(f)
	return &u
}
