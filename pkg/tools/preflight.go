package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

// ToolOrigin distinguishes who requested the call, since an LLM-originated
// call is additionally gated on the tool's visible_to_llm projection.
type ToolOrigin string

const (
	OriginLlm    ToolOrigin = "llm"
	OriginApi    ToolOrigin = "api"
	OriginSystem ToolOrigin = "system"
)

// ToolCall is one request to preflight and, if allowed, invoke a tool.
type ToolCall struct {
	ToolID         ToolID
	CallID         string
	Actor          envelope.Subject
	Tenant         envelope.TenantID
	Origin         ToolOrigin
	Args           map[string]any
	Consent        *envelope.Consent
	IdempotencyKey *string
}

// ConfigFingerprint identifies the configuration snapshot a preflight ran
// against, so the invoker and evidence trail can detect drift.
type ConfigFingerprint struct {
	Version *string
	Hash    *string
}

func (f ConfigFingerprint) IsEmpty() bool {
	return f.Version == nil && f.Hash == nil
}

// ConfigProvider hands back the currently active configuration fingerprint.
type ConfigProvider interface {
	Current(ctx context.Context) ConfigFingerprint
}

// NoopConfigProvider never reports a fingerprint.
type NoopConfigProvider struct{}

func (NoopConfigProvider) Current(ctx context.Context) ConfigFingerprint { return ConfigFingerprint{} }

// StaticConfigProvider serves one fixed fingerprint, set at construction.
type StaticConfigProvider struct {
	fingerprint ConfigFingerprint
}

func NewStaticConfigProvider(fingerprint ConfigFingerprint) StaticConfigProvider {
	return StaticConfigProvider{fingerprint: fingerprint}
}

func (p StaticConfigProvider) Current(ctx context.Context) ConfigFingerprint { return p.fingerprint }

// PreflightPlan is everything Invoke needs to run a call that preflight
// has already approved: the resolved spec, the fused sandbox inputs, and
// the planned operations.
type PreflightPlan struct {
	Spec            AvailableSpec
	SandboxManifest sandbox.ToolManifest
	Grant           sandbox.Grant
	Policy          sandbox.PolicyConfig
	Profile         sandbox.Profile
	Obligations     []authz.Obligation
	BudgetSnapshot  map[string]any
	PlannedOps      []sandbox.ExecOp
	ConfigVersion   *string
	ConfigHash      *string
}

func (p PreflightPlan) ProfileHash() string { return p.Profile.ProfileHash }

// PreflightOutput is the preflight verdict: either a denial with a reason
// and error code, or an allow carrying the plan to invoke.
type PreflightOutput struct {
	Allow     bool
	Reason    string
	ErrorCode errs.Code
	Plan      *PreflightPlan
}

func deniedWithCode(reason string, code errs.Code) PreflightOutput {
	return PreflightOutput{Allow: false, Reason: reason, ErrorCode: code}
}

func allowed(plan PreflightPlan) PreflightOutput {
	return PreflightOutput{Allow: true, Plan: &plan}
}

// AuthDecision is the outcome of an AuthProvider.Authorize call.
type AuthDecision struct {
	Allow       bool
	Obligations []authz.Obligation
	Reason      string
	ErrorCode   errs.Code
}

// AuthProvider is the pluggable authorization hook preflight delegates to
// after its own built-in gates (enablement, visibility, schema, consent)
// have all passed.
type AuthProvider interface {
	Authorize(ctx context.Context, call ToolCall, spec AvailableSpec) (AuthDecision, error)
}

// AllowAllAuth allows every call with no obligations; the default for
// deployments that delegate authorization entirely to the facade that
// fronts the interceptor chain.
type AllowAllAuth struct{}

func (AllowAllAuth) Authorize(ctx context.Context, call ToolCall, spec AvailableSpec) (AuthDecision, error) {
	return AuthDecision{Allow: true}, nil
}

// PreflightService runs the ten-step preflight gate: resolve and check the
// tool's availability, enforce idempotency-key and LLM-visibility rules,
// validate args against the input schema, gate on consent, delegate to the
// AuthProvider, plan the executable operations, refresh the config
// fingerprint, and finally fuse and guard-check the sandbox Profile.
type PreflightService struct {
	Registry ToolRegistry
	Auth     AuthProvider
	Config   ConfigProvider
}

func NewPreflightService(registry ToolRegistry, auth AuthProvider) *PreflightService {
	return &PreflightService{Registry: registry, Auth: auth, Config: NoopConfigProvider{}}
}

func (s *PreflightService) WithConfigProvider(provider ConfigProvider) *PreflightService {
	s.Config = provider
	return s
}

func (s *PreflightService) Preflight(ctx context.Context, call ToolCall) (PreflightOutput, error) {
	spec, ok := s.Registry.Get(ctx, call.ToolID, call.Tenant)
	if !ok {
		s.recordPreflight(call, false)
		return deniedWithCode("tool not available", errs.PolicyDenyTool), nil
	}
	if !spec.Enabled {
		s.recordPreflight(call, false)
		return deniedWithCode("tool disabled", errs.PolicyDenyTool), nil
	}

	if spec.Manifest.Idempotency == IdempoKeyed && call.IdempotencyKey == nil {
		s.recordPreflight(call, false)
		return deniedWithCode("idempotency key required", errs.PolicyDenyTool), nil
	}

	if call.Origin == OriginLlm && !spec.VisibleToLlm {
		s.recordPreflight(call, false)
		return deniedWithCode("tool not visible to LLM", errs.PolicyDenyTool), nil
	}

	if err := validateFields(spec.Manifest.InputSchema, call.Args); err != nil {
		return PreflightOutput{}, err
	}

	if deny := ensureConsent(spec.Manifest, call); deny != nil {
		s.recordPreflight(call, false)
		return deniedWithCode(deny.UserMessage, deny.Code), nil
	}

	decision, err := s.Auth.Authorize(ctx, call, spec)
	if err != nil {
		return PreflightOutput{}, err
	}
	if !decision.Allow {
		code := decision.ErrorCode
		if code == "" {
			code = errs.AuthForbidden
		}
		reason := decision.Reason
		if reason == "" {
			reason = "denied"
		}
		s.recordPreflight(call, false)
		return deniedWithCode(reason, code), nil
	}

	plannedOps, err := PlanExecOps(spec.Manifest, call.Args)
	if err != nil {
		return PreflightOutput{}, err
	}
	if len(plannedOps) == 0 {
		return PreflightOutput{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("no executable operations planned")
	}

	fingerprint := s.Config.Current(ctx)
	if !fingerprint.IsEmpty() {
		if err := s.Registry.UpdateConfigFingerprint(ctx, spec.Manifest.ID, fingerprint.Version, fingerprint.Hash); err != nil {
			return PreflightOutput{}, err
		}
		spec.ConfigVersion = fingerprint.Version
		spec.ConfigHash = fingerprint.Hash
	}

	sandboxManifest := toSandboxManifest(spec.Manifest)
	grant := buildGrant(call, spec.Manifest)
	policy := buildPolicyConfig(spec, fingerprint)

	profile, err := sandbox.DefaultProfileBuilder{}.Build(ctx, grant, sandboxManifest, policy)
	if err != nil {
		return PreflightOutput{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage(err.Error())
	}

	guard := sandbox.DefaultPolicyGuard{}
	for _, capability := range ManifestToCapabilities(spec.Manifest) {
		if err := guard.Validate(ctx, profile, capability); err != nil {
			return PreflightOutput{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage(err.Error())
		}
	}

	plan := PreflightPlan{
		Spec:            spec,
		SandboxManifest: sandboxManifest,
		Grant:           grant,
		Policy:          policy,
		Profile:         profile,
		Obligations:     decision.Obligations,
		BudgetSnapshot:  budgetSnapshot(call.Args),
		PlannedOps:      plannedOps,
		ConfigVersion:   fingerprint.Version,
		ConfigHash:      fingerprint.Hash,
	}

	s.recordPreflight(call, true)
	return allowed(plan), nil
}

func (s *PreflightService) recordPreflight(call ToolCall, allow bool) {
	PreflightsTotal.WithLabelValues(string(call.ToolID), string(call.Origin), strconv.FormatBool(allow)).Inc()
}

// ensureConsent returns a denial error when the manifest requires consent
// and the call's consent is missing, expired, too long-lived, or doesn't
// cover the manifest's declared scopes; nil when no consent is required or
// the supplied consent satisfies every check.
func ensureConsent(manifest ToolManifest, call ToolCall) *errs.Error {
	if !manifest.Consent.Required {
		return nil
	}
	if call.Consent == nil {
		return errs.New(errs.AuthForbidden).WithUserMessage("consent required").WithDevMessage("consent required")
	}
	if call.Consent.ExpiresAt != nil {
		now := time.Now()
		if now.After(*call.Consent.ExpiresAt) {
			return errs.New(errs.AuthForbidden).WithUserMessage("consent expired").WithDevMessage("consent expired")
		}
		if manifest.Consent.MaxTTLMs != nil {
			remaining := call.Consent.ExpiresAt.Sub(now).Milliseconds()
			if remaining > int64(*manifest.Consent.MaxTTLMs) {
				return errs.New(errs.AuthForbidden).WithUserMessage("consent ttl exceeds policy").WithDevMessage("consent ttl exceeds policy")
			}
		}
	}
	if len(manifest.Scopes) > 0 && !call.Consent.Superset(manifest.Scopes) {
		return errs.New(errs.AuthForbidden).WithUserMessage("consent scopes insufficient").WithDevMessage("consent scopes insufficient")
	}
	return nil
}

func buildGrant(call ToolCall, manifest ToolManifest) sandbox.Grant {
	return sandbox.Grant{
		Tenant:              call.Tenant,
		SubjectID:           call.Actor.SubjectID,
		ToolName:            string(manifest.ID),
		CallID:              call.CallID,
		Capabilities:        ManifestToCapabilities(manifest),
		ExpiresAt:           0,
		Budget:              sandbox.Budget{Calls: 1, BytesOut: manifest.Limits.MaxBytesOut, BytesIn: manifest.Limits.MaxBytesIn, FileCount: manifest.Limits.MaxFiles},
		DecisionFingerprint: "tool-preflight",
		Consent:             call.Consent,
	}
}

func buildPolicyConfig(spec AvailableSpec, fingerprint ConfigFingerprint) sandbox.PolicyConfig {
	limits := spec.Manifest.Limits
	timeout := limits.TimeoutMs
	version := ""
	if fingerprint.Version != nil {
		version = *fingerprint.Version
	}
	hash := ""
	if fingerprint.Hash != nil {
		hash = *fingerprint.Hash
	}
	maxDepth := limits.MaxDepth
	maxConcurrency := limits.MaxConcurrency
	return sandbox.PolicyConfig{
		Capabilities:  ManifestToCapabilities(spec.Manifest),
		SafetyClass:   spec.Manifest.SafetyClass,
		SideEffects:   []sandbox.SideEffect{spec.Manifest.SideEffect},
		Limits: &sandbox.Limits{
			MaxBytesIn:     &limits.MaxBytesIn,
			MaxBytesOut:    &limits.MaxBytesOut,
			MaxFiles:       &limits.MaxFiles,
			MaxDepth:       &maxDepth,
			MaxConcurrency: &maxConcurrency,
		},
		Whitelists: buildWhitelists(spec.Manifest),
		TimeoutMs:  &timeout,
		PolicyHash: spec.PolicyHash,
		ConfigVersion: version,
		ConfigHash:    hash,
	}
}

func toSandboxManifest(manifest ToolManifest) sandbox.ToolManifest {
	limits := manifest.Limits
	timeout := limits.TimeoutMs
	maxDepth := limits.MaxDepth
	maxConcurrency := limits.MaxConcurrency
	return sandbox.ToolManifest{
		Name:         string(manifest.ID),
		Version:      manifest.Version,
		Capabilities: ManifestToCapabilities(manifest),
		Safety:       manifest.SafetyClass,
		SideEffects:  []sandbox.SideEffect{manifest.SideEffect},
		Limits: &sandbox.Limits{
			MaxBytesIn:     &limits.MaxBytesIn,
			MaxBytesOut:    &limits.MaxBytesOut,
			MaxFiles:       &limits.MaxFiles,
			MaxDepth:       &maxDepth,
			MaxConcurrency: &maxConcurrency,
		},
		Whitelists: buildWhitelists(manifest),
		TimeoutMs:  &timeout,
		Metadata:   manifest.Metadata,
	}
}

func buildWhitelists(manifest ToolManifest) *sandbox.Whitelists {
	whitelist := &sandbox.Whitelists{}
	populated := false
	for _, decl := range manifest.Capabilities {
		switch decl.Domain {
		case "net.http":
			whitelist.Domains = append(whitelist.Domains, decl.Resource)
			whitelist.Methods = append(whitelist.Methods, strings.ToUpper(decl.Action))
			populated = true
		case "fs":
			whitelist.Paths = append(whitelist.Paths, decl.Resource)
			populated = true
		case "proc":
			whitelist.Tools = append(whitelist.Tools, decl.Resource)
			populated = true
		}
	}
	if !populated {
		return nil
	}
	return whitelist
}

func budgetSnapshot(args map[string]any) map[string]any {
	size := 0
	if b, err := json.Marshal(args); err == nil {
		size = len(b)
	}
	return map[string]any{
		"args_size_bytes": size,
		"timestamp_ms":    time.Now().UnixMilli(),
	}
}
