package sandbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// EvidenceStatus is the terminal classification an EndEvidence record
// carries, distinguishing a clean execution from a policy denial from an
// operational error.
type EvidenceStatus string

const (
	EvidenceOk     EvidenceStatus = "ok"
	EvidenceDenied EvidenceStatus = "denied"
	EvidenceError  EvidenceStatus = "error"
)

// BeginEvidence is emitted before an executor runs.
type BeginEvidence struct {
	EnvelopeID          string            `json:"envelope_id"`
	Tenant              envelope.TenantID `json:"tenant"`
	SubjectID           envelope.SubjectID `json:"subject_id"`
	ToolName            string            `json:"tool_name"`
	CallID              string            `json:"call_id"`
	ProfileHash         string            `json:"profile_hash"`
	Capability          string            `json:"capability"`
	DeclaredSideEffects []SideEffect      `json:"declared_side_effects"`
	Safety              string            `json:"safety"`
	InputsDigest        *DataDigest       `json:"inputs_digest,omitempty"`
	PolicyHash          string            `json:"policy_hash,omitempty"`
	ConfigVersion       string            `json:"config_version,omitempty"`
	ConfigHash          string            `json:"config_hash,omitempty"`
	StartedAt           time.Time         `json:"started_at"`
}

// EndEvidence is emitted after an executor runs, whether it succeeded,
// was denied, or errored.
type EndEvidence struct {
	EnvelopeID    string            `json:"envelope_id"`
	Tenant        envelope.TenantID `json:"tenant"`
	SubjectID     envelope.SubjectID `json:"subject_id"`
	ToolName      string            `json:"tool_name"`
	CallID        string            `json:"call_id"`
	ProfileHash   string            `json:"profile_hash"`
	PolicyHash    string            `json:"policy_hash,omitempty"`
	ConfigVersion string            `json:"config_version,omitempty"`
	ConfigHash    string            `json:"config_hash,omitempty"`
	FinishedAt    time.Time          `json:"finished_at"`
	Status        EvidenceStatus    `json:"status"`
	ErrorCode     string            `json:"error_code,omitempty"`
	InputsDigest  *DataDigest       `json:"inputs_digest,omitempty"`
	OutputsDigest *DataDigest       `json:"outputs_digest,omitempty"`
	SideEffects   []SideEffectRecord `json:"side_effects,omitempty"`
	BudgetUsed    Budget            `json:"budget_used"`
	DurationMs    int64             `json:"duration_ms"`
}

// EvidenceEvent is the tagged union written to the evidence sink.
type EvidenceEvent struct {
	Kind  string // "begin" or "end"
	Begin *BeginEvidence
	End   *EndEvidence
}

// EvidenceBuilder assembles Begin/End evidence records for one execution,
// capturing the start timestamp so End can compute elapsed duration.
type EvidenceBuilder struct {
	profile    Profile
	capability Capability
	envelopeID string
	startedAt  time.Time
}

func NewEvidenceBuilder(profile Profile, capability Capability, envelopeID string) EvidenceBuilder {
	return EvidenceBuilder{profile: profile, capability: capability, envelopeID: envelopeID, startedAt: time.Now().UTC()}
}

func (b EvidenceBuilder) Begin(inputsDigest *DataDigest) EvidenceEvent {
	return EvidenceEvent{Kind: "begin", Begin: &BeginEvidence{
		EnvelopeID:          b.envelopeID,
		Tenant:              b.profile.Tenant,
		SubjectID:           b.profile.SubjectID,
		ToolName:            b.profile.ToolName,
		CallID:              b.profile.CallID,
		ProfileHash:         b.profile.ProfileHash,
		Capability:          b.capability.Describe(),
		DeclaredSideEffects: b.profile.SideEffects,
		Safety:              b.profile.Safety.String(),
		InputsDigest:        inputsDigest,
		PolicyHash:          b.profile.PolicyHash,
		ConfigVersion:       b.profile.ConfigVersion,
		ConfigHash:          b.profile.ConfigHash,
		StartedAt:           b.startedAt,
	}}
}

func (b EvidenceBuilder) End(status EvidenceStatus, errorCode string, inputsDigest, outputsDigest *DataDigest, sideEffects []SideEffectRecord, budgetUsed Budget) EvidenceEvent {
	finishedAt := time.Now().UTC()
	return EvidenceEvent{Kind: "end", End: &EndEvidence{
		EnvelopeID:    b.envelopeID,
		Tenant:        b.profile.Tenant,
		SubjectID:     b.profile.SubjectID,
		ToolName:      b.profile.ToolName,
		CallID:        b.profile.CallID,
		ProfileHash:   b.profile.ProfileHash,
		PolicyHash:    b.profile.PolicyHash,
		ConfigVersion: b.profile.ConfigVersion,
		ConfigHash:    b.profile.ConfigHash,
		FinishedAt:    finishedAt,
		Status:        status,
		ErrorCode:     errorCode,
		InputsDigest:  inputsDigest,
		OutputsDigest: outputsDigest,
		SideEffects:   sideEffects,
		BudgetUsed:    budgetUsed,
		DurationMs:    finishedAt.Sub(b.startedAt).Milliseconds(),
	}}
}

// EvidenceSink persists or forwards evidence events; the tool-call audit
// trail this subsystem is required to leave.
type EvidenceSink interface {
	Emit(ctx context.Context, event EvidenceEvent)
}

// NoopEvidenceSink discards events; the default until a caller wires in a
// real sink (e.g. the outbox).
type NoopEvidenceSink struct{}

func (NoopEvidenceSink) Emit(ctx context.Context, event EvidenceEvent) {}

// DigestValue hashes an arbitrary JSON-serializable value.
func DigestValue(v any) DataDigest {
	b, _ := json.Marshal(v)
	return Sha256Digest(b)
}
