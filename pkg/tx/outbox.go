package tx

import (
	"context"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// OutboxStore is the durable SPI the dispatcher leases, acks, nacks, and
// dead-letters messages through. Enqueue MUST appear atomic with whatever
// business-store write accompanies it (same transaction for a relational
// implementation; a single mutex for the in-memory one).
type OutboxStore interface {
	Enqueue(ctx context.Context, msg NewOutboxMessage) (OutboxMessage, error)
	LeaseBatch(ctx context.Context, tenant envelope.TenantID, nowMs, leaseMs int64, batch int, workerID string, groupByDispatchKey bool) ([]OutboxMessage, error)
	AckDone(ctx context.Context, tenant envelope.TenantID, id ID) error
	NackBackoff(ctx context.Context, tenant envelope.TenantID, id ID, notBeforeMs int64, errMsg *string) error
	DeadLetter(ctx context.Context, tenant envelope.TenantID, id ID, errMsg *string) (DeadLetter, error)
	Heartbeat(ctx context.Context, tenant envelope.TenantID, id ID, leaseUntilMs int64, workerID string) error
	Revive(ctx context.Context, tenant envelope.TenantID, id ID, atMs int64) error
	Get(ctx context.Context, tenant envelope.TenantID, id ID) (*OutboxMessage, error)
}

// OutboxTransport delivers one leased message; a Dispatcher is generic
// over the transport so the same leasing/backoff/dead-letter algorithm
// runs whether delivery goes to Slack, Mattermost, or anything else.
type OutboxTransport interface {
	Send(ctx context.Context, msg OutboxMessage) error
}

// BuildOutboxMessage converts a caller-supplied NewOutboxMessage into the
// stored shape, stamping CreatedAtMs and defaulting NotBeforeMs to now.
func BuildOutboxMessage(n NewOutboxMessage, nowMs int64) OutboxMessage {
	notBefore := nowMs
	if n.NotBeforeMs != nil {
		notBefore = *n.NotBeforeMs
	}
	return OutboxMessage{
		ID:          n.ID,
		Tenant:      n.Tenant,
		EnvelopeID:  n.EnvelopeID,
		Topic:       n.Topic,
		Payload:     n.Payload,
		CreatedAtMs: nowMs,
		NotBeforeMs: notBefore,
		Attempts:    0,
		Status:      OutboxPending,
		DispatchKey: n.DispatchKey,
	}
}

// SelectMessages implements lease_batch's row-selection predicate against
// an in-memory slice: same-tenant, non-terminal, not_before elapsed, lease
// either absent/expired/owned-by-self, ordered as given (callers sort by
// (not_before, created_at) before calling), at most one per dispatch_key
// when groupByKey, capped at batch.
func SelectMessages(all []OutboxMessage, tenant envelope.TenantID, nowMs int64, batch int, workerID string, groupByKey bool) []ID {
	var selected []ID
	seenKeys := make(map[string]bool)

	for _, msg := range all {
		if msg.Tenant != tenant {
			continue
		}
		if msg.Status.IsTerminal() {
			continue
		}
		if msg.LeaseUntil != nil && *msg.LeaseUntil > nowMs && (msg.Worker == nil || *msg.Worker != workerID) {
			continue
		}
		if msg.NotBeforeMs > nowMs {
			continue
		}
		if groupByKey && msg.DispatchKey != nil {
			if seenKeys[*msg.DispatchKey] {
				continue
			}
			seenKeys[*msg.DispatchKey] = true
		}
		selected = append(selected, msg.ID)
		if len(selected) >= batch {
			break
		}
	}
	return selected
}

// BuildDeadLetter freezes an outbox message into a DeadLetter at the
// point of dead-lettering.
func BuildDeadLetter(msg OutboxMessage, errMsg *string, nowMs int64) DeadLetter {
	frozen := msg
	return DeadLetter{
		Reference:    DeadLetterRef{Kind: DeadOutbox, ID: msg.ID},
		Tenant:       msg.Tenant,
		Error:        errMsg,
		OccurredAtMs: nowMs,
		Payload:      DeadLetterPayload{Outbox: &frozen},
	}
}

// Dispatcher leases a batch of due messages for one tenant and drives
// each through a BudgetGuard check, the transport, and ack/nack/dead
// transition. One Dispatcher instance is shared by the worker loop that
// ticks it on an interval.
type Dispatcher struct {
	Transport          OutboxTransport
	Store              OutboxStore
	WorkerID           string
	MaxAttempts        uint32
	LeaseMs            int64
	Batch              int
	Backoff            BackoffPolicy
	GroupByDispatchKey bool
	DeadStore          DeadStore // optional; nil disables dead-letter persistence beyond the store's own row
	Metrics            Metrics
	QoS                BudgetGuard
}

// Tick leases at most Batch due messages for tenant and dispatches each.
func (d *Dispatcher) Tick(ctx context.Context, tenant envelope.TenantID, nowMs int64) error {
	messages, err := d.Store.LeaseBatch(ctx, tenant, nowMs, d.LeaseMs, d.Batch, d.WorkerID, d.GroupByDispatchKey)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		start := time.Now()
		if err := d.QoS.OnDispatchAttempt(tenant, msg); err != nil {
			return err
		}

		sendErr := d.Transport.Send(ctx, msg)
		if sendErr == nil {
			if err := d.Store.AckDone(ctx, tenant, msg.ID); err != nil {
				return err
			}
			d.Metrics.RecordOutboxDispatch(tenant, msg.Topic, msg.Attempts+1, true, "", time.Since(start))
			if err := d.QoS.OnDispatchResult(tenant, msg, true); err != nil {
				return err
			}
			continue
		}

		attempts := msg.Attempts + 1
		errStr := sendErr.Error()
		code := errorCode(sendErr)

		if attempts >= d.MaxAttempts {
			letter, err := d.Store.DeadLetter(ctx, tenant, msg.ID, &errStr)
			if err != nil {
				return err
			}
			if d.DeadStore != nil {
				if err := d.DeadStore.Push(ctx, letter); err != nil {
					return err
				}
			}
			d.Metrics.RecordOutboxDispatch(tenant, msg.Topic, attempts, false, code, time.Since(start))
			d.Metrics.RecordOutboxDeadLetter(tenant, msg.Topic, code)
			if err := d.QoS.OnDispatchResult(tenant, msg, false); err != nil {
				return err
			}
			continue
		}

		next := d.Backoff.NextAfter(nowMs, attempts)
		if err := d.Store.NackBackoff(ctx, tenant, msg.ID, next, &errStr); err != nil {
			return err
		}
		d.Metrics.RecordOutboxDispatch(tenant, msg.Topic, attempts, false, code, time.Since(start))
		if err := d.QoS.OnDispatchResult(tenant, msg, false); err != nil {
			return err
		}
	}

	return nil
}
