package tx

import (
	"context"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// IdempotencyStore de-duplicates operations by (tenant, key). CheckAndPut
// reclaims expired InFlight rows, rejects hash mismatches as a conflict,
// and surfaces the prior terminal outcome (or nil, meaning "proceed") on
// a fresh key.
type IdempotencyStore interface {
	CheckAndPut(ctx context.Context, tenant envelope.TenantID, key, hash string, ttlMs uint64) (*string, error)
	Finish(ctx context.Context, tenant envelope.TenantID, key, resultDigest string) error
	Fail(ctx context.Context, tenant envelope.TenantID, key string, errMsg *string) error
	Get(ctx context.Context, tenant envelope.TenantID, key string) (*IdempoRecord, error)
}

// BuildRecord constructs a fresh InFlight IdempoRecord.
func BuildRecord(tenant envelope.TenantID, key, hash string, ttlMs uint64, nowMs int64) IdempoRecord {
	return IdempoRecord{
		Key:         key,
		Tenant:      tenant,
		Hash:        hash,
		Status:      IdempoInFlight,
		TTLMs:       ttlMs,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
}
