package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

// InvokeStatus is the terminal status of one Invoke call.
type InvokeStatus string

const (
	InvokeOk     InvokeStatus = "ok"
	InvokeDenied InvokeStatus = "denied"
	InvokeError  InvokeStatus = "error"
)

// InvokeResult is what Invoke returns, and what the idempotency store
// persists keyed by the call's idempotency key.
type InvokeResult struct {
	Status      InvokeStatus `json:"status"`
	ErrorCode   *string      `json:"error_code,omitempty"`
	Output      any          `json:"output,omitempty"`
	EvidenceRef *string      `json:"evidence_ref,omitempty"`
}

func invokeOk(output any, evidenceRef *string) InvokeResult {
	return InvokeResult{Status: InvokeOk, Output: output, EvidenceRef: evidenceRef}
}

func invokeDenied(reason string) InvokeResult {
	return InvokeResult{Status: InvokeDenied, ErrorCode: &reason}
}

func invokeErrorResult(code string) InvokeResult {
	return InvokeResult{Status: InvokeError, ErrorCode: &code}
}

// InvokeRequest pairs a preflight-approved plan with the original call.
type InvokeRequest struct {
	Plan PreflightPlan
	Call ToolCall
}

// IdempotencyStore caches the InvokeResult produced for a given
// idempotency key, so a retried call with the same key short-circuits to
// the first result instead of re-running side effects.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (InvokeResult, bool)
	Put(ctx context.Context, key string, value InvokeResult)
}

// InMemoryIdempotencyStore is a process-local IdempotencyStore.
type InMemoryIdempotencyStore struct {
	mu    sync.Mutex
	cache map[string]InvokeResult
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{cache: make(map[string]InvokeResult)}
}

func (s *InMemoryIdempotencyStore) Get(ctx context.Context, key string) (InvokeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[key]
	return v, ok
}

func (s *InMemoryIdempotencyStore) Put(ctx context.Context, key string, value InvokeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = value
}

// InvokerConfig bundles an Invoker's collaborators.
type InvokerConfig struct {
	Sandbox     *sandbox.Manager
	Idempotency IdempotencyStore
	Events      ToolEventSink
}

func NewInvokerConfig(sb *sandbox.Manager) InvokerConfig {
	return InvokerConfig{
		Sandbox:     sb,
		Idempotency: NewInMemoryIdempotencyStore(),
		Events:      NoopToolEventSink{},
	}
}

// Invoker runs a preflight-approved plan: idempotency lookup, a per-
// (tool, tenant) serial lock when the manifest demands it, the planned
// operations in order with budget/side-effect accumulation, obligations,
// output-schema validation, and idempotent-result persistence on success.
type Invoker struct {
	config      InvokerConfig
	concurrency sync.Map // string -> *sync.Mutex, created under concurrencyMu per key
	concurrencyMu sync.Mutex
}

func NewInvoker(config InvokerConfig) *Invoker {
	return &Invoker{config: config}
}

func (inv *Invoker) Invoke(ctx context.Context, request InvokeRequest) (InvokeResult, error) {
	plan := request.Plan
	manifest := plan.Spec.Manifest
	startedAt := time.Now()

	var idempotencyKey string
	if manifest.Idempotency == IdempoKeyed && request.Call.IdempotencyKey != nil {
		idempotencyKey = *request.Call.IdempotencyKey
		if hit, ok := inv.config.Idempotency.Get(ctx, idempotencyKey); ok {
			return hit, nil
		}
	}

	if manifest.Concurrency == ConcurrencySerial {
		key := string(manifest.ID) + "::" + string(request.Call.Tenant)
		release := inv.lockSerial(key)
		defer release()
	}

	plannedOps := plan.PlannedOps
	if len(plannedOps) == 0 {
		return InvokeResult{}, errs.New(errs.SchemaValidationFailed).WithDevMessage("no exec operations derived")
	}

	argsDigest := digestJSON(request.Call.Args)
	beginEvent := ToolInvokeBegin{
		EnvelopeID:    request.Call.CallID,
		Tenant:        request.Call.Tenant,
		SubjectID:     request.Call.Actor.SubjectID,
		ToolID:        manifest.ID,
		ToolVersion:   manifest.Version,
		CallID:        request.Call.CallID,
		Origin:        request.Call.Origin,
		Safety:        manifest.SafetyClass,
		SideEffect:    manifest.SideEffect,
		ProfileHash:   plan.ProfileHash(),
		PolicyHash:    plan.Policy.PolicyHash,
		ConfigVersion: plan.ConfigVersion,
		ConfigHash:    plan.ConfigHash,
		ArgsDigest:    argsDigest,
	}
	inv.config.Events.OnInvokeBegin(ctx, beginEvent)

	var lastOutput any
	status := InvokeOk
	var errorCode *string
	var failure error
	budgetUsed := sandbox.Budget{}
	var totalSideEffects []sandbox.SideEffectRecord
	var outputDigest *string
	var durationMs int64

	for idx, op := range plannedOps {
		envelopeID := fmt.Sprintf("%s#%d", request.Call.CallID, idx)
		outcome, err := inv.config.Sandbox.Execute(ctx, sandbox.ExecuteRequest{
			Grant:      plan.Grant,
			Manifest:   plan.SandboxManifest,
			Policy:     plan.Policy,
			Op:         op,
			EnvelopeID: envelopeID,
		})
		if err != nil {
			status = InvokeError
			code := errorPublicCode(err)
			errorCode = &code
			failure = errs.New(errs.ToolExecutionError).WithDevMessage(err.Error())
			break
		}

		if outcome.End.Kind == "end" && outcome.End.End != nil {
			end := outcome.End.End
			budgetUsed.AddAssign(end.BudgetUsed)
			totalSideEffects = append(totalSideEffects, end.SideEffects...)
			durationMs += end.DurationMs
			if end.OutputsDigest != nil {
				joined := end.OutputsDigest.Algo + ":" + end.OutputsDigest.B64
				outputDigest = &joined
			}
		}

		if !outcome.Result.Ok {
			status = InvokeError
			code := outcome.Result.Code
			errorCode = &code
			msg := outcome.Result.Message
			if msg == "" {
				msg = "tool execution failed"
			}
			failure = errs.New(errs.ToolExecutionError).WithDevMessage(msg)
			lastOutput = outcome.Result.Out
			break
		}

		lastOutput = outcome.Result.Out
	}

	output := lastOutput

	if status == InvokeOk {
		if err := applyObligations(&output, plan.Obligations); err != nil {
			status = InvokeError
			code := string(errs.UnknownInternal)
			if se, ok := err.(*errs.Error); ok {
				code = string(se.Code)
			}
			errorCode = &code
			failure = err
			output = nil
		} else if err := validateOutput(manifest, output); err != nil {
			status = InvokeError
			code := string(errs.SchemaValidationFailed)
			errorCode = &code
			failure = err
			output = nil
		}
	}

	var finalOutputDigest *string
	if status == InvokeOk {
		if outputDigest != nil {
			finalOutputDigest = outputDigest
		} else {
			d := digestJSON(output)
			finalOutputDigest = &d
		}
	} else {
		finalOutputDigest = outputDigest
	}

	duration := time.Since(startedAt)
	if durationMs == 0 {
		durationMs = duration.Milliseconds()
	}

	var sideEffectsDigest *string
	if len(totalSideEffects) > 0 {
		d := digestJSON(totalSideEffects)
		sideEffectsDigest = &d
	}

	endEvent := ToolInvokeEnd{
		EnvelopeID:        request.Call.CallID,
		Tenant:            request.Call.Tenant,
		SubjectID:         request.Call.Actor.SubjectID,
		ToolID:            manifest.ID,
		ToolVersion:       manifest.Version,
		CallID:            request.Call.CallID,
		Origin:            request.Call.Origin,
		Status:            status,
		ErrorCode:         errorCode,
		ProfileHash:       plan.ProfileHash(),
		PolicyHash:        plan.Policy.PolicyHash,
		ConfigVersion:     plan.ConfigVersion,
		ConfigHash:        plan.ConfigHash,
		ArgsDigest:        argsDigest,
		OutputDigest:      finalOutputDigest,
		SideEffectsDigest: sideEffectsDigest,
		BudgetCalls:       budgetUsed.Calls,
		BudgetBytesIn:     budgetUsed.BytesIn,
		BudgetBytesOut:    budgetUsed.BytesOut,
		BudgetCPUMs:       budgetUsed.CPUMs,
		BudgetGPUMs:       budgetUsed.GPUMs,
		BudgetFileCount:   budgetUsed.FileCount,
		DurationMs:        durationMs,
	}
	inv.config.Events.OnInvokeEnd(ctx, endEvent)

	InvocationsTotal.WithLabelValues(string(manifest.ID), string(request.Call.Origin), string(status)).Inc()
	InvocationDurationSeconds.WithLabelValues(string(manifest.ID)).Observe(duration.Seconds())
	InvocationBudgetBytesTotal.WithLabelValues(string(manifest.ID), "in").Add(float64(budgetUsed.BytesIn))
	InvocationBudgetBytesTotal.WithLabelValues(string(manifest.ID), "out").Add(float64(budgetUsed.BytesOut))

	if failure != nil {
		return InvokeResult{}, failure
	}

	result := invokeOk(output, &request.Call.CallID)
	if idempotencyKey != "" {
		inv.config.Idempotency.Put(ctx, idempotencyKey, result)
	}
	return result, nil
}

// lockSerial acquires the per-key serial lock and returns a release func,
// mirroring the teacher's RAII drop-guard pattern with an explicit defer.
func (inv *Invoker) lockSerial(key string) func() {
	inv.concurrencyMu.Lock()
	lockAny, _ := inv.concurrency.LoadOrStore(key, &sync.Mutex{})
	inv.concurrencyMu.Unlock()
	mu := lockAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func errorPublicCode(err error) string {
	if se, ok := err.(*errs.Error); ok {
		return string(se.ToPublic().Code)
	}
	return string(errs.UnknownInternal)
}

// validateOutput runs the manifest's declared output schema against the
// produced value, when that value is itself a JSON object.
func validateOutput(manifest ToolManifest, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		if len(manifest.OutputSchema) == 0 {
			return nil
		}
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("tool output is not a JSON object")
	}
	return validateFields(manifest.OutputSchema, obj)
}

// applyObligations masks or drops the fields named by each obligation's
// "paths" param, using a minimal "/"-separated JSON-pointer-like path against the
// decoded output tree. Unknown obligation kinds are ignored to preserve
// forward compatibility.
func applyObligations(value *any, obligations []authz.Obligation) error {
	for _, obligation := range obligations {
		paths := stringSlice(obligation.Params["paths"])
		switch obligation.Kind {
		case authz.ObligationMask:
			for _, p := range paths {
				setAtPath(*value, p, "***")
			}
		case authz.ObligationRedact:
			for _, p := range paths {
				setAtPath(*value, p, nil)
			}
		}
	}
	return nil
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// setAtPath mutates the map/slice tree in place at a "/"-separated path
// (RFC 6901 style, without the "~0"/"~1" escapes this codebase never
// produces), leaving the tree untouched if any segment doesn't resolve.
func setAtPath(root any, pointer string, newValue any) {
	if pointer == "" || pointer[0] != '/' {
		return
	}
	segments := splitPath(pointer[1:])
	cur := root
	for i, seg := range segments {
		last := i == len(segments)-1
		m, ok := cur.(map[string]any)
		if !ok {
			return
		}
		if last {
			if _, exists := m[seg]; exists {
				m[seg] = newValue
			}
			return
		}
		cur, ok = m[seg]
		if !ok {
			return
		}
	}
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	out = append(out, p[start:])
	return out
}

func digestJSON(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DefaultSandboxWithExecutors wires a sandbox.Manager with the in-process
// net/fs/tmp executors and a noop evidence sink, the baseline sandbox an
// Invoker runs planned operations against.
func DefaultSandboxWithExecutors() *sandbox.Manager {
	manager := sandbox.NewManager(sandbox.DefaultProfileBuilder{}, sandbox.DefaultPolicyGuard{}, sandbox.NoopBudgetMeter{})
	manager.WithExecutor(sandbox.CapNetHttp, sandbox.NetExecutor{})
	manager.WithExecutor(sandbox.CapFsRead, sandbox.FsExecutor{})
	manager.WithExecutor(sandbox.CapFsWrite, sandbox.FsExecutor{})
	manager.WithExecutor(sandbox.CapFsList, sandbox.FsExecutor{})
	manager.WithExecutor(sandbox.CapTmpUse, sandbox.TmpExecutor{})
	manager.WithEvidenceSink(sandbox.NoopEvidenceSink{})
	return manager
}
