package errs

import "fmt"

// Code is an opaque, dot-separated error code such as "AUTH.UNAUTHENTICATED".
type Code string

// CodeSpec is the fixed classification registered for one Code.
type CodeSpec struct {
	Code           Code
	Kind           Kind
	HTTPStatus     int
	GRPCStatus     int // 0 means "not applicable"
	Retryable      RetryClass
	Severity       Severity
	DefaultUserMsg string
}

// Known codes. Names mirror the dot-separated wire form.
const (
	AuthUnauthenticated     Code = "AUTH.UNAUTHENTICATED"
	AuthForbidden           Code = "AUTH.FORBIDDEN"
	SchemaValidationFailed  Code = "SCHEMA.VALIDATION_FAILED"
	QuotaRateLimited        Code = "QUOTA.RATE_LIMITED"
	QuotaBudgetExceeded     Code = "QUOTA.BUDGET_EXCEEDED"
	PolicyDenyTool          Code = "POLICY.DENY_TOOL"
	SandboxPermissionDenied Code = "SANDBOX.PERMISSION_DENIED"
	SandboxCapabilityBlock  Code = "SANDBOX.CAPABILITY_BLOCKED"
	LlmTimeout              Code = "LLM.TIMEOUT"
	LlmContextOverflow      Code = "LLM.CONTEXT_OVERFLOW"
	LlmSafetyBlock          Code = "LLM.SAFETY_BLOCK"
	ProviderUnavailable     Code = "PROVIDER.UNAVAILABLE"
	ToolExecutionError      Code = "TOOL.EXECUTION_ERROR"
	StorageConflict         Code = "STORAGE.CONFLICT"
	StorageNotFound         Code = "STORAGE.NOT_FOUND"
	TxTimeout               Code = "TX.TIMEOUT"
	TxIdempotentBusy        Code = "TX.IDEMPOTENT_BUSY"
	TxIdempotentLastFailed  Code = "TX.IDEMPOTENT_LAST_FAILED"
	A2AReplay               Code = "A2A.REPLAY"
	A2AConsentRequired      Code = "A2A.CONSENT_REQUIRED"
	A2ALedgerMismatch       Code = "A2A.LEDGER_MISMATCH"
	UnknownInternal         Code = "UNKNOWN.INTERNAL"
)

var registry = map[Code]CodeSpec{}

func register(spec CodeSpec) {
	if _, exists := registry[spec.Code]; exists {
		panic(fmt.Sprintf("errs: duplicate error code registered: %s", spec.Code))
	}
	registry[spec.Code] = spec
}

func init() {
	register(CodeSpec{AuthUnauthenticated, KindAuth, 401, 16, RetryNone, SeverityWarn, "authentication required"})
	register(CodeSpec{AuthForbidden, KindAuth, 403, 7, RetryNone, SeverityWarn, "not permitted to access this resource"})
	register(CodeSpec{SchemaValidationFailed, KindSchema, 422, 3, RetryPermanent, SeverityWarn, "request does not match the required schema"})
	register(CodeSpec{QuotaRateLimited, KindRateLimit, 429, 8, RetryTransient, SeverityWarn, "too many requests, retry later"})
	register(CodeSpec{QuotaBudgetExceeded, KindQosBudgetExceeded, 402, 8, RetryPermanent, SeverityWarn, "budget exhausted, adjust quota configuration"})
	register(CodeSpec{PolicyDenyTool, KindPolicyDeny, 403, 7, RetryPermanent, SeverityWarn, "current policy does not allow this operation"})
	register(CodeSpec{SandboxPermissionDenied, KindSandbox, 403, 7, RetryPermanent, SeverityWarn, "sandbox denied this execution"})
	register(CodeSpec{SandboxCapabilityBlock, KindSandbox, 403, 7, RetryNone, SeverityWarn, "required capability is blocked by the sandbox"})
	register(CodeSpec{LlmTimeout, KindLlmError, 503, 4, RetryTransient, SeverityError, "model response timed out, retry later"})
	register(CodeSpec{LlmContextOverflow, KindLlmError, 400, 3, RetryPermanent, SeverityWarn, "input exceeds the model context window"})
	register(CodeSpec{LlmSafetyBlock, KindLlmError, 403, 7, RetryPermanent, SeverityWarn, "model declined the request on safety grounds"})
	register(CodeSpec{ProviderUnavailable, KindProvider, 503, 14, RetryTransient, SeverityError, "upstream provider unavailable, retry later"})
	register(CodeSpec{ToolExecutionError, KindToolError, 500, 2, RetryNone, SeverityError, "tool execution failed"})
	register(CodeSpec{StorageConflict, KindConflict, 409, 6, RetryTransient, SeverityWarn, "resource conflict, retry"})
	register(CodeSpec{StorageNotFound, KindStorage, 404, 5, RetryNone, SeverityWarn, "resource not found"})
	register(CodeSpec{TxTimeout, KindTimeout, 504, 4, RetryTransient, SeverityError, "transaction timed out, retry later"})
	register(CodeSpec{TxIdempotentBusy, KindConflict, 409, 10, RetryTransient, SeverityWarn, "request still processing, retry later"})
	register(CodeSpec{TxIdempotentLastFailed, KindConflict, 409, 10, RetryNone, SeverityError, "the previous idempotent attempt failed"})
	register(CodeSpec{A2AReplay, KindA2AError, 409, 10, RetryNone, SeverityWarn, "cross-domain request judged a replay"})
	register(CodeSpec{A2AConsentRequired, KindA2AError, 428, 9, RetryPermanent, SeverityWarn, "missing required cross-domain consent"})
	register(CodeSpec{A2ALedgerMismatch, KindA2AError, 409, 10, RetryNone, SeverityError, "cross-domain ledger reconciliation mismatch"})
	register(CodeSpec{UnknownInternal, KindUnknown, 500, 13, RetryTransient, SeverityError, "an unknown error occurred, retry later"})
}

// SpecOf returns the registered spec for code, if any.
func SpecOf(code Code) (CodeSpec, bool) {
	spec, ok := registry[code]
	return spec, ok
}

// MustSpecOf panics if code was never registered; used where the caller
// controls the code literal and a miss is a programming error.
func MustSpecOf(code Code) CodeSpec {
	spec, ok := registry[code]
	if !ok {
		panic(fmt.Sprintf("errs: unregistered error code: %s", code))
	}
	return spec
}

// HTTPStatusOf maps a code to its HTTP status, defaulting to 500 for
// unregistered codes rather than panicking — response rendering must never
// fail because of a bad code.
func HTTPStatusOf(code Code) int {
	if spec, ok := registry[code]; ok {
		return spec.HTTPStatus
	}
	return 500
}
