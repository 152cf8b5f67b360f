package tools

import (
	"context"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

// ToolInvokeBegin is emitted before an invocation's planned operations run.
type ToolInvokeBegin struct {
	EnvelopeID    string
	Tenant        envelope.TenantID
	SubjectID     envelope.SubjectID
	ToolID        ToolID
	ToolVersion   string
	CallID        string
	Origin        ToolOrigin
	Safety        sandbox.SafetyClass
	SideEffect    sandbox.SideEffect
	ProfileHash   string
	PolicyHash    string
	ConfigVersion *string
	ConfigHash    *string
	ArgsDigest    string
}

// ToolInvokeEnd is emitted once an invocation has fully resolved, whether
// it succeeded, was denied, or errored.
type ToolInvokeEnd struct {
	EnvelopeID         string
	Tenant             envelope.TenantID
	SubjectID          envelope.SubjectID
	ToolID             ToolID
	ToolVersion        string
	CallID             string
	Origin             ToolOrigin
	Status             InvokeStatus
	ErrorCode          *string
	ProfileHash        string
	PolicyHash         string
	ConfigVersion      *string
	ConfigHash         *string
	ArgsDigest         string
	OutputDigest       *string
	SideEffectsDigest  *string
	BudgetCalls        uint64
	BudgetBytesIn      uint64
	BudgetBytesOut     uint64
	BudgetCPUMs        uint64
	BudgetGPUMs        uint64
	BudgetFileCount    uint64
	DurationMs         int64
}

// ToolEventSink receives the begin/end events the invoker emits around
// every call; the audit/evidence trail the outbox ultimately persists.
type ToolEventSink interface {
	OnInvokeBegin(ctx context.Context, event ToolInvokeBegin)
	OnInvokeEnd(ctx context.Context, event ToolInvokeEnd)
}

// NoopToolEventSink discards events; the default until a caller wires in
// the outbox-backed sink.
type NoopToolEventSink struct{}

func (NoopToolEventSink) OnInvokeBegin(ctx context.Context, event ToolInvokeBegin) {}
func (NoopToolEventSink) OnInvokeEnd(ctx context.Context, event ToolInvokeEnd)     {}
