package tx

import (
	"context"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// DeadStore holds poisoned outbox and saga entries, one row per
// reference, and supports removing or purging them. Replay removes the
// letter (failing if it is absent); it does not revive the outbox message
// or restart the saga it refers to.
type DeadStore interface {
	Push(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context, tenant envelope.TenantID, kind *DeadKind, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, ref DeadLetterRef) (*DeadLetter, error)
	Remove(ctx context.Context, ref DeadLetterRef) error
	Replay(ctx context.Context, ref DeadLetterRef) error
	PurgeOlderThan(ctx context.Context, tenant envelope.TenantID, beforeMs int64) error
}
