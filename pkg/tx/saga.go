package tx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// SagaStore persists SagaInstance rows.
type SagaStore interface {
	Insert(ctx context.Context, saga SagaInstance) error
	Load(ctx context.Context, id ID) (*SagaInstance, error)
	Save(ctx context.Context, saga SagaInstance) error
}

// SagaParticipant executes and compensates one named step. Implementations
// MUST be idempotent for steps marked Idempotent, since the orchestrator
// may re-tick the same step after a crash.
type SagaParticipant interface {
	Execute(ctx context.Context, uri string, saga SagaInstance) (bool, error)
	Compensate(ctx context.Context, uri string, saga SagaInstance) (bool, error)
}

// SagaOrchestrator advances SagaInstances one tick at a time through the
// Running/Compensating state machine.
type SagaOrchestrator struct {
	Store       SagaStore
	Participant SagaParticipant
	Metrics     Metrics
}

// Start creates and persists a new Running SagaInstance from def.
func (o *SagaOrchestrator) Start(ctx context.Context, tenant envelope.TenantID, def SagaDefinition, timeoutAtMs *int64) (ID, error) {
	id := newSagaID()
	steps := make([]SagaStepState, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = newStepState(s)
	}
	now := time.Now().UnixMilli()
	saga := SagaInstance{
		ID:          id,
		Tenant:      tenant,
		State:       SagaRunning,
		DefName:     def.Name,
		Steps:       steps,
		Cursor:      0,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		TimeoutAtMs: timeoutAtMs,
	}
	if err := o.Store.Insert(ctx, saga); err != nil {
		return "", err
	}
	return id, nil
}

// Tick advances one saga instance: one forward step while Running, or the
// full compensation chain back to Cursor 0 in one call while Compensating.
func (o *SagaOrchestrator) Tick(ctx context.Context, id ID) error {
	saga, err := o.Store.Load(ctx, id)
	if err != nil {
		return err
	}
	if saga == nil {
		return nil
	}
	before := saga.State

	switch saga.State {
	case SagaRunning:
		if err := o.tickRunning(ctx, saga); err != nil {
			return err
		}
	case SagaCompensating:
		if err := o.tickCompensating(ctx, saga); err != nil {
			return err
		}
	case SagaPaused, SagaCompleted, SagaFailed, SagaCancelled:
		// terminal or parked; no further ticks
	}

	if o.Metrics != nil && saga.State != before {
		o.Metrics.RecordSagaTransition(saga.DefName, before, saga.State)
	}

	saga.UpdatedAtMs = time.Now().UnixMilli()
	return o.Store.Save(ctx, *saga)
}

func (o *SagaOrchestrator) tickRunning(ctx context.Context, saga *SagaInstance) error {
	if saga.Cursor >= len(saga.Steps) {
		saga.State = SagaCompleted
		return nil
	}

	idx := saga.Cursor
	if saga.Steps[idx].State == StepSucceeded {
		saga.Cursor++
		if saga.Cursor >= len(saga.Steps) {
			saga.State = SagaCompleted
		}
		return nil
	}

	now := time.Now().UnixMilli()
	saga.Steps[idx].State = StepInFlight
	if saga.Steps[idx].StartedAtMs == nil {
		saga.Steps[idx].StartedAtMs = &now
	}
	actionURI := saga.Steps[idx].Def.ActionURI

	ok, err := o.Participant.Execute(ctx, actionURI, *saga)
	completedAt := time.Now().UnixMilli()

	switch {
	case err != nil:
		msg := err.Error()
		saga.Steps[idx].State = StepFailed
		saga.Steps[idx].LastError = &msg
		saga.State = SagaCompensating
		saga.Cursor = idx
	case !ok:
		msg := "step returned failure"
		saga.Steps[idx].State = StepFailed
		saga.Steps[idx].LastError = &msg
		saga.State = SagaCompensating
		saga.Cursor = idx
	default:
		saga.Steps[idx].State = StepSucceeded
		saga.Steps[idx].CompletedAtMs = &completedAt
		saga.Cursor++
		if saga.Cursor >= len(saga.Steps) {
			saga.State = SagaCompleted
		}
	}

	return nil
}

func (o *SagaOrchestrator) tickCompensating(ctx context.Context, saga *SagaInstance) error {
	for {
		if saga.Cursor == 0 {
			saga.State = SagaCancelled
			return nil
		}

		idx := saga.Cursor - 1
		if saga.Steps[idx].State == StepCompensated || saga.Steps[idx].State == StepSkipped {
			saga.Cursor = idx
			continue
		}

		uri := saga.Steps[idx].Def.CompensateURI
		if uri == nil {
			saga.Steps[idx].State = StepSkipped
			saga.Cursor = idx
			if saga.Cursor == 0 {
				saga.State = SagaFailed
			}
			continue
		}

		ok, err := o.Participant.Compensate(ctx, *uri, *saga)
		switch {
		case err != nil:
			msg := err.Error()
			saga.Steps[idx].LastError = &msg
			saga.State = SagaFailed
			return nil
		case !ok:
			msg := "compensate returned failure"
			saga.Steps[idx].LastError = &msg
			saga.State = SagaFailed
			return nil
		default:
			now := time.Now().UnixMilli()
			saga.Steps[idx].State = StepCompensated
			saga.Steps[idx].CompletedAtMs = &now
			saga.Cursor = idx
		}
	}
}

func newSagaID() ID {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return ID("sg-" + hex.EncodeToString(buf))
}
