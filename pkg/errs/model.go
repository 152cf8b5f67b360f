package errs

import (
	"fmt"
	"time"
)

// CauseEntry is one link in a cause chain, recorded for the audit view.
type CauseEntry struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// Error is the rich, in-process error object. It implements the standard
// error interface and carries everything the Audit view exposes; the
// Public view is a deliberately narrow projection of it.
type Error struct {
	Code          Code
	Kind          Kind
	HTTPStatus    int
	GRPCStatus    int
	Retryable     RetryClass
	Severity      Severity
	UserMessage   string
	DevMessage    string
	Meta          map[string]string
	CauseChain    []CauseEntry
	CorrelationID string
	BackoffHintMs int64
	occurredAt    time.Time
	wrapped       error
}

func (e *Error) Error() string {
	if e.DevMessage != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.DevMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

// Unwrap lets errors.Is/errors.As traverse into the wrapped cause.
func (e *Error) Unwrap() error { return e.wrapped }

// New starts building an Error from a registered code. Unregistered codes
// fall back to UNKNOWN.INTERNAL's classification but keep the given code,
// so callers always get a renderable error even for a typo'd code.
func New(code Code) *Error {
	spec, ok := SpecOf(code)
	if !ok {
		spec = MustSpecOf(UnknownInternal)
		spec.Code = code
	}
	return &Error{
		Code:        spec.Code,
		Kind:        spec.Kind,
		HTTPStatus:  spec.HTTPStatus,
		GRPCStatus:  spec.GRPCStatus,
		Retryable:   spec.Retryable,
		Severity:    spec.Severity,
		UserMessage: spec.DefaultUserMsg,
		occurredAt:  time.Now(),
	}
}

// WithUserMessage overrides the default user-facing message.
func (e *Error) WithUserMessage(msg string) *Error {
	e.UserMessage = msg
	return e
}

// WithDevMessage sets the internal, audit-only message.
func (e *Error) WithDevMessage(msg string) *Error {
	e.DevMessage = msg
	return e
}

// WithMeta attaches one metadata key/value pair, used by metric labels
// (provider, tool, tenant) and audit sinks.
func (e *Error) WithMeta(key, value string) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
	return e
}

// WithCorrelationID attaches the request correlation id.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithBackoffHint sets a suggested retry delay in milliseconds.
func (e *Error) WithBackoffHint(ms int64) *Error {
	e.BackoffHintMs = ms
	return e
}

// WithCause records an upstream error as a cause, both in the Unwrap chain
// and in the flattened CauseChain used by the audit view.
func (e *Error) WithCause(cause error) *Error {
	e.wrapped = cause
	e.CauseChain = append(e.CauseChain, CauseEntry{Message: cause.Error()})
	return e
}

// Is lets errors.Is(err, errs.New(code)) match by code alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
