package errs

// PublicView is the narrow projection returned to callers: code, message,
// correlation id only. Never include dev_message, cause_chain, meta, or
// backoff_hint here — those are audit-only per the error handling design.
type PublicView struct {
	Code          Code   `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AuditView is the full projection written to audit sinks.
type AuditView struct {
	Code          Code              `json:"code"`
	Kind          Kind              `json:"kind"`
	Severity      Severity          `json:"severity"`
	Retryable     RetryClass        `json:"retryable"`
	UserMessage   string            `json:"user_message"`
	DevMessage    string            `json:"dev_message,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
	CauseChain    []CauseEntry      `json:"cause_chain,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	BackoffHintMs int64             `json:"backoff_hint_ms,omitempty"`
}

// ToPublic renders the caller-facing view.
func (e *Error) ToPublic() PublicView {
	return PublicView{Code: e.Code, Message: e.UserMessage, CorrelationID: e.CorrelationID}
}

// ToAudit renders the full view for audit sinks.
func (e *Error) ToAudit() AuditView {
	return AuditView{
		Code:          e.Code,
		Kind:          e.Kind,
		Severity:      e.Severity,
		Retryable:     e.Retryable,
		UserMessage:   e.UserMessage,
		DevMessage:    e.DevMessage,
		Meta:          e.Meta,
		CauseChain:    e.CauseChain,
		CorrelationID: e.CorrelationID,
		BackoffHintMs: e.BackoffHintMs,
	}
}

// LabelsView returns the flat key/value set used for metric labels: code,
// kind, retry class, severity, plus the meta keys that are safe as label
// values (provider, tool, tenant) — never arbitrary meta.
func (e *Error) LabelsView() map[string]string {
	labels := map[string]string{
		"code":     string(e.Code),
		"kind":     string(e.Kind),
		"retry":    string(e.Retryable),
		"severity": string(e.Severity),
	}
	for _, key := range []string{"provider", "tool", "tenant"} {
		if v, ok := e.Meta[key]; ok {
			labels[key] = v
		}
	}
	return labels
}
