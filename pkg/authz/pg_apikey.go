package authz

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// PgAPIKeyStore is the relational APIKeyStore, grounded on pkg/tx's
// pg_store.go query style (plain pgxpool, no ORM/codegen).
type PgAPIKeyStore struct {
	pool *pgxpool.Pool
}

func NewPgAPIKeyStore(pool *pgxpool.Pool) *PgAPIKeyStore {
	return &PgAPIKeyStore{pool: pool}
}

func (s *PgAPIKeyStore) LookupByHash(ctx context.Context, hash string) (APIKeyRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject_id, tenant_id, role, expires_at
		FROM api_keys WHERE key_hash = $1
	`, hash)

	var (
		record APIKeyRecord
		subj   string
		tenant string
	)
	err := row.Scan(&subj, &tenant, &record.Role, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKeyRecord{}, errUnauthenticated
	}
	if err != nil {
		return APIKeyRecord{}, err
	}
	record.SubjectID = envelope.SubjectID(subj)
	record.Tenant = envelope.TenantID(tenant)
	return record, nil
}

func (s *PgAPIKeyStore) TouchLastUsed(ctx context.Context, hash string) {
	_, _ = s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE key_hash = $1`, hash, time.Now())
}
