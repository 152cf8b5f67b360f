package tx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PgOutboxStore is the relational OutboxStore backing production
// deployments. It assumes a per-tenant schema the way the rest of this
// module's tenant-scoped stores do, so every statement runs against
// whatever schema the caller's pool connection has search_path set to.
type PgOutboxStore struct {
	pool *pgxpool.Pool
}

func NewPgOutboxStore(pool *pgxpool.Pool) *PgOutboxStore {
	return &PgOutboxStore{pool: pool}
}

func (s *PgOutboxStore) Enqueue(ctx context.Context, n NewOutboxMessage) (OutboxMessage, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return OutboxMessage{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO outbox_messages
			(id, tenant_id, envelope_id, topic, payload, created_at_ms, not_before_ms, attempts, status, dispatch_key)
		VALUES
			(COALESCE(NULLIF($1, ''), encode(gen_random_bytes(8), 'hex')), $2, $3, $4, $5, $6, COALESCE($7, $6), 0, $8, $9)
		RETURNING id, tenant_id, envelope_id, topic, payload, created_at_ms, not_before_ms, attempts, status, last_error, dispatch_key, lease_until_ms, worker_id
	`, string(n.ID), string(n.Tenant), string(n.EnvelopeID), n.Topic, payload, nowMs(), n.NotBeforeMs, OutboxPending, n.DispatchKey)

	return scanOutboxRow(row)
}

func (s *PgOutboxStore) LeaseBatch(ctx context.Context, tenant envelope.TenantID, nowMs, leaseMs int64, batch int, workerID string, groupByDispatchKey bool) ([]OutboxMessage, error) {
	leaseUntil := nowMs + leaseMs

	query := `
		WITH due AS (
			SELECT id FROM outbox_messages
			WHERE tenant_id = $1
			  AND status NOT IN ('Done', 'Dead')
			  AND not_before_ms <= $2
			  AND (lease_until_ms IS NULL OR lease_until_ms <= $2 OR worker_id = $3)
			ORDER BY not_before_ms, created_at_ms, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages m
		SET status = 'Leased', lease_until_ms = $5, worker_id = $3
		FROM due
		WHERE m.id = due.id
		RETURNING m.id, m.tenant_id, m.envelope_id, m.topic, m.payload, m.created_at_ms, m.not_before_ms, m.attempts, m.status, m.last_error, m.dispatch_key, m.lease_until_ms, m.worker_id
	`
	rows, err := s.pool.Query(ctx, query, string(tenant), nowMs, workerID, batch, leaseUntil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxMessage
	seenKeys := make(map[string]bool)
	for rows.Next() {
		msg, err := scanOutboxRows(rows)
		if err != nil {
			return nil, err
		}
		if groupByDispatchKey && msg.DispatchKey != nil {
			if seenKeys[*msg.DispatchKey] {
				continue
			}
			seenKeys[*msg.DispatchKey] = true
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PgOutboxStore) AckDone(ctx context.Context, tenant envelope.TenantID, id ID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET status = 'Done', lease_until_ms = NULL, worker_id = NULL
		WHERE tenant_id = $1 AND id = $2
	`, string(tenant), string(id))
	return err
}

func (s *PgOutboxStore) NackBackoff(ctx context.Context, tenant envelope.TenantID, id ID, notBeforeMs int64, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'Pending', attempts = attempts + 1, not_before_ms = $3, last_error = $4,
		    lease_until_ms = NULL, worker_id = NULL
		WHERE tenant_id = $1 AND id = $2
	`, string(tenant), string(id), notBeforeMs, errMsg)
	return err
}

func (s *PgOutboxStore) DeadLetter(ctx context.Context, tenant envelope.TenantID, id ID, errMsg *string) (DeadLetter, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE outbox_messages
		SET status = 'Dead', attempts = attempts + 1, last_error = $3, lease_until_ms = NULL, worker_id = NULL
		WHERE tenant_id = $1 AND id = $2
		RETURNING id, tenant_id, envelope_id, topic, payload, created_at_ms, not_before_ms, attempts, status, last_error, dispatch_key, lease_until_ms, worker_id
	`, string(tenant), string(id), errMsg)

	msg, err := scanOutboxRow(row)
	if err != nil {
		return DeadLetter{}, err
	}
	return BuildDeadLetter(msg, errMsg, nowMs()), nil
}

func (s *PgOutboxStore) Heartbeat(ctx context.Context, tenant envelope.TenantID, id ID, leaseUntilMs int64, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET lease_until_ms = $3, worker_id = $4
		WHERE tenant_id = $1 AND id = $2
	`, string(tenant), string(id), leaseUntilMs, workerID)
	return err
}

func (s *PgOutboxStore) Revive(ctx context.Context, tenant envelope.TenantID, id ID, atMs int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET status = 'Pending', not_before_ms = $3, lease_until_ms = NULL, worker_id = NULL
		WHERE tenant_id = $1 AND id = $2
	`, string(tenant), string(id), atMs)
	return err
}

func (s *PgOutboxStore) Get(ctx context.Context, tenant envelope.TenantID, id ID) (*OutboxMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, envelope_id, topic, payload, created_at_ms, not_before_ms, attempts, status, last_error, dispatch_key, lease_until_ms, worker_id
		FROM outbox_messages WHERE tenant_id = $1 AND id = $2
	`, string(tenant), string(id))

	msg, err := scanOutboxRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRow(row rowScanner) (OutboxMessage, error) {
	return scanOutboxRows(row)
}

func scanOutboxRows(row rowScanner) (OutboxMessage, error) {
	var (
		m        OutboxMessage
		id       string
		tenant   string
		envID    string
		payload  []byte
	)
	err := row.Scan(&id, &tenant, &envID, &m.Topic, &payload, &m.CreatedAtMs, &m.NotBeforeMs, &m.Attempts, &m.Status, &m.LastError, &m.DispatchKey, &m.LeaseUntil, &m.Worker)
	if err != nil {
		return OutboxMessage{}, err
	}
	m.ID = ID(id)
	m.Tenant = envelope.TenantID(tenant)
	m.EnvelopeID = ID(envID)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return OutboxMessage{}, err
		}
	}
	return m, nil
}

// PgIdempotencyStore is the relational IdempotencyStore. CheckAndPut uses
// an upsert guarded by a WHERE clause that only fires for a missing row or
// an expired InFlight one, so two racing callers for the same key never
// both observe "proceed".
type PgIdempotencyStore struct {
	pool *pgxpool.Pool
}

func NewPgIdempotencyStore(pool *pgxpool.Pool) *PgIdempotencyStore {
	return &PgIdempotencyStore{pool: pool}
}

func (s *PgIdempotencyStore) CheckAndPut(ctx context.Context, tenant envelope.TenantID, key, hash string, ttlMs uint64) (*string, error) {
	now := nowMs()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO idempo_records (tenant_id, key, hash, status, ttl_ms, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, 'InFlight', $4, $5, $5)
		ON CONFLICT (tenant_id, key) DO UPDATE
			SET hash = EXCLUDED.hash, status = 'InFlight', ttl_ms = EXCLUDED.ttl_ms,
			    created_at_ms = EXCLUDED.created_at_ms, updated_at_ms = EXCLUDED.updated_at_ms
			WHERE idempo_records.status = 'InFlight'
			  AND $5 - idempo_records.updated_at_ms > idempo_records.ttl_ms
		RETURNING hash, status, result_digest
	`, string(tenant), key, hash, ttlMs, now)

	var (
		existingHash string
		status       IdempoStatus
		digest       *string
	)
	err := row.Scan(&existingHash, &status, &digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.checkExisting(ctx, tenant, key, hash)
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *PgIdempotencyStore) checkExisting(ctx context.Context, tenant envelope.TenantID, key, hash string) (*string, error) {
	rec, err := s.Get(ctx, tenant, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotFound("idempotency record vanished during check-and-put")
	}
	if rec.Hash != hash {
		return nil, errConflict("idempotency key reused with a different request body")
	}
	switch rec.Status {
	case IdempoSucceeded:
		return rec.ResultDigest, nil
	case IdempoFailed:
		return nil, errIdempoFailed()
	default:
		return nil, errIdempoBusy()
	}
}

func (s *PgIdempotencyStore) Finish(ctx context.Context, tenant envelope.TenantID, key, resultDigest string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempo_records SET status = 'Succeeded', result_digest = $3, updated_at_ms = $4
		WHERE tenant_id = $1 AND key = $2
	`, string(tenant), key, resultDigest, nowMs())
	return err
}

func (s *PgIdempotencyStore) Fail(ctx context.Context, tenant envelope.TenantID, key string, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempo_records SET status = 'Failed', last_error = $3, updated_at_ms = $4
		WHERE tenant_id = $1 AND key = $2
	`, string(tenant), key, errMsg, nowMs())
	return err
}

func (s *PgIdempotencyStore) Get(ctx context.Context, tenant envelope.TenantID, key string) (*IdempoRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, key, hash, status, result_digest, last_error, ttl_ms, created_at_ms, updated_at_ms
		FROM idempo_records WHERE tenant_id = $1 AND key = $2
	`, string(tenant), key)

	var rec IdempoRecord
	var tenantStr string
	err := row.Scan(&tenantStr, &rec.Key, &rec.Hash, &rec.Status, &rec.ResultDigest, &rec.LastError, &rec.TTLMs, &rec.CreatedAtMs, &rec.UpdatedAtMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Tenant = envelope.TenantID(tenantStr)
	return &rec, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
