package sandbox

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/wisbric/agentcore/pkg/errs"
)

// RevocationWatcher lets a caller short-circuit execution for a grant that
// has been revoked out-of-band, checked before any profile work begins.
type RevocationWatcher interface {
	IsRevoked(ctx context.Context, grant Grant) (bool, error)
}

// NoopRevocationWatcher never reports a revocation.
type NoopRevocationWatcher struct{}

func (NoopRevocationWatcher) IsRevoked(ctx context.Context, grant Grant) (bool, error) {
	return false, nil
}

// ExecutionOutcome bundles the evidence trail with the executor's result.
type ExecutionOutcome struct {
	Begin  EvidenceEvent
	End    EvidenceEvent
	Result ExecResult
}

// ExecuteRequest is the input to Manager.Execute: everything needed to
// fuse a Profile and run a single operation under it.
type ExecuteRequest struct {
	Grant      Grant
	Manifest   ToolManifest
	Policy     PolicyConfig
	Op         ExecOp
	EnvelopeID string
}

// Manager composes the ProfileBuilder, PolicyGuard, BudgetMeter, the
// per-capability executor registry, an EvidenceSink, and a
// RevocationWatcher behind one Execute call.
type Manager struct {
	ProfileBuilder ProfileBuilder
	Guard          PolicyGuard
	Meter          BudgetMeter
	Executors      map[CapabilityKind]SandboxExecutor
	EvidenceSink   EvidenceSink
	Revocation     RevocationWatcher
}

// NewManager wires the default fusion/guard logic with noop evidence and
// revocation collaborators; callers override via the With* setters below.
func NewManager(builder ProfileBuilder, guard PolicyGuard, meter BudgetMeter) *Manager {
	return &Manager{
		ProfileBuilder: builder,
		Guard:          guard,
		Meter:          meter,
		Executors:      make(map[CapabilityKind]SandboxExecutor),
		EvidenceSink:   NoopEvidenceSink{},
		Revocation:     NoopRevocationWatcher{},
	}
}

func (m *Manager) WithExecutor(kind CapabilityKind, executor SandboxExecutor) *Manager {
	m.Executors[kind] = executor
	return m
}

func (m *Manager) WithEvidenceSink(sink EvidenceSink) *Manager {
	m.EvidenceSink = sink
	return m
}

func (m *Manager) WithRevocationWatcher(watcher RevocationWatcher) *Manager {
	m.Revocation = watcher
	return m
}

// Execute runs the manager's 7-step algorithm: grant validity and
// revocation check; profile fusion, capability selection, and consent
// gating; budget reservation; BeginEvidence; executor invocation; on
// error, rollback + EndEvidence(Denied/Error) and a failure ExecResult
// (not a thrown error); on success, limits check, commit, and
// EndEvidence(Ok).
func (m *Manager) Execute(ctx context.Context, req ExecuteRequest) (ExecutionOutcome, error) {
	if err := ensureGrantActive(req.Grant); err != nil {
		return ExecutionOutcome{}, err
	}
	revoked, err := m.Revocation.IsRevoked(ctx, req.Grant)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	if revoked {
		return ExecutionOutcome{}, errs.New(errs.SandboxPermissionDenied).WithDevMessage("grant has been revoked")
	}

	profile, err := m.ProfileBuilder.Build(ctx, req.Grant, req.Manifest, req.Policy)
	if err != nil {
		return ExecutionOutcome{}, err
	}

	capability, err := selectCapability(profile, req.Op)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	if err := ensureConsent(req.Grant, capability, req.Op, profile); err != nil {
		return ExecutionOutcome{}, err
	}
	if err := m.Guard.Validate(ctx, profile, capability); err != nil {
		return ExecutionOutcome{}, err
	}

	executor, ok := m.Executors[capability.Kind]
	if !ok {
		return ExecutionOutcome{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("executor not registered")
	}

	reservation := estimateBudget(req.Op)
	if err := m.Meter.Reserve(ctx, req.Grant.Tenant, req.Grant.SubjectID, reservation); err != nil {
		return ExecutionOutcome{}, err
	}
	BudgetReservationsTotal.Inc()

	inputDigest := DigestValue(req.Op)
	builder := NewEvidenceBuilder(profile, capability, req.EnvelopeID)
	beginEvent := builder.Begin(&inputDigest)
	m.EvidenceSink.Emit(ctx, beginEvent)

	ectx := ExecCtx{Profile: profile, Cancel: NoopCancelToken{}}
	execResult, err := executor.Execute(ctx, ectx, req.Op)
	if err != nil {
		m.Meter.Rollback(ctx, req.Grant.Tenant, req.Grant.SubjectID, reservation)
		var public errs.PublicView
		if se, ok := err.(*errs.Error); ok {
			public = se.ToPublic()
		} else {
			public = errs.New(errs.UnknownInternal).ToPublic()
		}
		failure := ExecFailure(string(public.Code), public.Message)
		status := mapErrorStatus(string(public.Code))
		endEvent := builder.End(status, string(public.Code), &inputDigest, nil, nil, Budget{})
		m.EvidenceSink.Emit(ctx, endEvent)
		ExecutionsTotal.WithLabelValues(string(capability.Kind), string(status)).Inc()
		return ExecutionOutcome{Begin: beginEvent, End: endEvent, Result: failure}, nil
	}

	if err := ensureUsageWithinLimits(profile, execResult.Usage); err != nil {
		return ExecutionOutcome{}, err
	}

	usageBudget := execResult.Usage.ToBudget()
	m.Meter.Commit(ctx, req.Grant.Tenant, req.Grant.SubjectID, usageBudget)

	outputsDigest := DigestValue(execResult.Out)
	status := EvidenceOk
	if !execResult.Ok {
		status = EvidenceError
	}
	endEvent := builder.End(status, execResult.Code, &inputDigest, &outputsDigest, execResult.SideEffects, usageBudget)
	m.EvidenceSink.Emit(ctx, endEvent)
	ExecutionsTotal.WithLabelValues(string(capability.Kind), string(status)).Inc()

	return ExecutionOutcome{Begin: beginEvent, End: endEvent, Result: execResult}, nil
}

func selectCapability(profile Profile, op ExecOp) (Capability, error) {
	switch op.Kind {
	case OpFsRead:
		return findFsCapability(profile, CapFsRead, op.Path)
	case OpFsWrite:
		return findFsCapability(profile, CapFsWrite, op.Path)
	case OpFsList:
		return findFsCapability(profile, CapFsList, op.Path)
	case OpNetHttp:
		return findNetCapability(profile, op.URL, op.Method)
	case OpBrowserNav, OpBrowserScreenshot:
		return findFirst(profile, CapBrowserUse)
	case OpProcExec:
		return findProcCapability(profile, op.Tool)
	case OpTmpAlloc:
		return findFirst(profile, CapTmpUse)
	default:
		return Capability{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("unknown operation kind")
	}
}

func findFirst(profile Profile, kind CapabilityKind) (Capability, error) {
	for _, c := range profile.Capabilities {
		if c.Kind == kind {
			return c, nil
		}
	}
	return Capability{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("required capability not granted")
}

func findFsCapability(profile Profile, kind CapabilityKind, path string) (Capability, error) {
	normalized := NormalizePath(path)
	for _, c := range profile.Capabilities {
		if c.Kind != kind {
			continue
		}
		if strings.HasPrefix(normalized, NormalizePath(c.Path)) {
			return c, nil
		}
	}
	return Capability{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("filesystem path not covered by capability")
}

func findNetCapability(profile Profile, urlStr, method string) (Capability, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return Capability{}, errs.New(errs.PolicyDenyTool).WithDevMessage("invalid URL")
	}
	host := parsed.Hostname()
	if host == "" {
		return Capability{}, errs.New(errs.PolicyDenyTool).WithDevMessage("URL missing host")
	}
	scheme := parsed.Scheme
	port := parsed.Port()
	methodUpper := strings.ToUpper(method)

	for _, c := range profile.Capabilities {
		if c.Kind != CapNetHttp {
			continue
		}
		if len(c.Methods) > 0 {
			allowed := false
			for _, m := range c.Methods {
				if strings.EqualFold(m, methodUpper) {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		if c.Scheme != "" && !strings.EqualFold(c.Scheme, scheme) {
			continue
		}
		if c.Port != 0 {
			if port == "" || port != itoa(c.Port) {
				continue
			}
		}
		if strings.HasSuffix(host, c.Host) {
			return c, nil
		}
	}
	return Capability{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("network host not allowed")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func findProcCapability(profile Profile, tool string) (Capability, error) {
	for _, c := range profile.Capabilities {
		if c.Kind == CapProcExec && c.Tool == tool {
			return c, nil
		}
	}
	return Capability{}, errs.New(errs.SandboxCapabilityBlock).WithDevMessage("process tool not allowed")
}

func estimateBudget(op ExecOp) Budget {
	switch op.Kind {
	case OpFsRead:
		var in uint64
		if op.Len != nil {
			in = *op.Len
		}
		return Budget{Calls: 1, BytesIn: in}
	case OpFsWrite:
		return Budget{Calls: 1, BytesOut: decodedLen(op.BytesB64)}
	case OpFsList:
		return Budget{Calls: 1}
	case OpNetHttp:
		var out uint64
		if op.BodyB64 != nil {
			out = decodedLen(*op.BodyB64)
		}
		return Budget{Calls: 1, BytesOut: out}
	case OpBrowserNav, OpBrowserScreenshot, OpProcExec:
		return Budget{Calls: 1}
	case OpTmpAlloc:
		return Budget{Calls: 1, BytesOut: op.SizeBytes}
	default:
		return Budget{Calls: 1}
	}
}

func decodedLen(b64 string) uint64 {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0
	}
	return uint64(len(b))
}

func ensureGrantActive(grant Grant) error {
	if grant.ExpiresAt > 0 {
		now := time.Now().UnixMilli()
		if grant.ExpiresAt <= now {
			return errs.New(errs.SandboxPermissionDenied).WithDevMessage("grant expired")
		}
	}
	return nil
}

func ensureConsent(grant Grant, capability Capability, op ExecOp, profile Profile) error {
	if !requiresConsent(capability, op, profile) {
		return nil
	}
	if grant.Consent == nil {
		return errs.New(errs.SandboxPermissionDenied).WithDevMessage("consent required")
	}
	if grant.Consent.Expired(time.Now()) {
		return errs.New(errs.SandboxPermissionDenied).WithDevMessage("consent expired")
	}
	return nil
}

func requiresConsent(capability Capability, op ExecOp, profile Profile) bool {
	switch capability.Kind {
	case CapFsWrite, CapProcExec:
		return true
	case CapNetHttp:
		if op.Kind == OpNetHttp {
			upper := strings.ToUpper(op.Method)
			return !(upper == "GET" || upper == "HEAD")
		}
		return false
	case CapTmpUse, CapFsRead, CapFsList:
		return false
	case CapBrowserUse, CapSysGpu:
		return profile.Safety == SafetyHigh
	default:
		return false
	}
}

func ensureUsageWithinLimits(profile Profile, usage ExecUsage) error {
	if profile.Limits.MaxBytesIn != nil && usage.BytesIn > *profile.Limits.MaxBytesIn {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("bytes_in exceeds limit")
	}
	if profile.Limits.MaxBytesOut != nil && usage.BytesOut > *profile.Limits.MaxBytesOut {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("bytes_out exceeds limit")
	}
	if profile.Limits.MaxFiles != nil && usage.FileCount > *profile.Limits.MaxFiles {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("file count exceeds limit")
	}
	return nil
}

func mapErrorStatus(code string) EvidenceStatus {
	if strings.HasPrefix(code, "AUTH.") || code == string(errs.SandboxPermissionDenied) || strings.HasPrefix(code, "POLICY.") {
		return EvidenceDenied
	}
	return EvidenceError
}
