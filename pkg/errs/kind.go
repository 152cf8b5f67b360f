// Package errs is the process-wide error code registry. It maps opaque,
// dot-separated codes to a fixed classification (kind, HTTP status, retry
// class, severity, default message) and renders two views of an error: a
// Public view for callers and an Audit view for sinks.
package errs

// Kind is the coarse category an error code belongs to.
type Kind string

const (
	KindAuth              Kind = "Auth"
	KindSchema            Kind = "Schema"
	KindRateLimit         Kind = "RateLimit"
	KindQosBudgetExceeded Kind = "QosBudgetExceeded"
	KindPolicyDeny        Kind = "PolicyDeny"
	KindSandbox           Kind = "Sandbox"
	KindLlmError          Kind = "LlmError"
	KindProvider          Kind = "Provider"
	KindToolError         Kind = "ToolError"
	KindConflict          Kind = "Conflict"
	KindStorage           Kind = "Storage"
	KindTimeout           Kind = "Timeout"
	KindA2AError          Kind = "A2AError"
	KindUnknown           Kind = "Unknown"
)

// RetryClass governs who is allowed to retry an error and under what policy.
type RetryClass string

const (
	RetryNone      RetryClass = "None"
	RetryTransient RetryClass = "Transient"
	RetryPermanent RetryClass = "Permanent"
)

// Severity is the operational severity of an error, used for alerting and
// log-level selection.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarn     Severity = "Warn"
	SeverityError    Severity = "Error"
	SeverityCritical Severity = "Critical"
)
