package sandbox

import (
	"context"
	"path"
	"strings"

	"github.com/wisbric/agentcore/pkg/errs"
)

// PolicyGuard validates a single capability invocation against its Profile,
// beyond the fact that the capability was fused into the profile at all.
type PolicyGuard interface {
	Validate(ctx context.Context, profile Profile, capability Capability) error
}

// DefaultPolicyGuard implements path/domain/tool whitelist enforcement.
type DefaultPolicyGuard struct{}

func (DefaultPolicyGuard) Validate(ctx context.Context, profile Profile, capability Capability) error {
	if !capabilityInProfile(profile, capability) {
		return errs.New(errs.SandboxPermissionDenied).WithDevMessage("capability not allowed in profile")
	}
	switch capability.Kind {
	case CapFsRead, CapFsWrite, CapFsList:
		return validatePath(capability.Path, profile)
	case CapNetHttp:
		return validateDomain(capability.Host, profile)
	case CapProcExec:
		return validateTool(capability.Tool, profile)
	default:
		return nil
	}
}

func capabilityInProfile(profile Profile, capability Capability) bool {
	target := capKey(capability)
	for _, c := range profile.Capabilities {
		if capKey(c) == target {
			return true
		}
	}
	return false
}

func validatePath(p string, profile Profile) error {
	normalized := NormalizePath(p)
	if profile.Mappings.RootFS != nil {
		root := NormalizePath(*profile.Mappings.RootFS)
		if !strings.HasPrefix(normalized, root) {
			return errs.New(errs.PolicyDenyTool).WithDevMessage("path outside of mapped root")
		}
	}
	if len(profile.Whitelists.Paths) > 0 {
		allowed := false
		for _, p := range profile.Whitelists.Paths {
			if strings.HasPrefix(normalized, p) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errs.New(errs.PolicyDenyTool).WithDevMessage("path not in whitelist")
		}
	}
	return nil
}

func validateDomain(domain string, profile Profile) error {
	if len(profile.Whitelists.Domains) == 0 {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("network domains not declared")
	}
	for _, allowed := range profile.Whitelists.Domains {
		if strings.HasSuffix(domain, allowed) {
			return nil
		}
	}
	return errs.New(errs.PolicyDenyTool).WithDevMessage("domain not allowed")
}

func validateTool(tool string, profile Profile) error {
	if len(profile.Whitelists.Tools) == 0 {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("no allowed tools configured")
	}
	for _, allowed := range profile.Whitelists.Tools {
		if allowed == tool {
			return nil
		}
	}
	return errs.New(errs.PolicyDenyTool).WithDevMessage("tool not allowed")
}

// NormalizePath collapses ".."/"." components and guarantees a leading
// slash, so whitelist/root_fs prefix checks can't be defeated by traversal.
func NormalizePath(p string) string {
	cleaned := path.Clean("/" + p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}
