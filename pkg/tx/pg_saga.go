package tx

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// PgSagaStore is the relational SagaStore. Steps are stored as one JSON
// column rather than a child table: the orchestrator always loads and
// saves the whole instance, so there is no query that needs per-step rows.
type PgSagaStore struct {
	pool *pgxpool.Pool
}

func NewPgSagaStore(pool *pgxpool.Pool) *PgSagaStore {
	return &PgSagaStore{pool: pool}
}

func (s *PgSagaStore) Insert(ctx context.Context, saga SagaInstance) error {
	steps, err := json.Marshal(saga.Steps)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_instances (id, tenant_id, state, def_name, steps, cursor, created_at_ms, updated_at_ms, timeout_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, string(saga.ID), string(saga.Tenant), saga.State, saga.DefName, steps, saga.Cursor, saga.CreatedAtMs, saga.UpdatedAtMs, saga.TimeoutAtMs)
	if isUniqueViolation(err) {
		return errConflict("saga instance already exists")
	}
	return err
}

func (s *PgSagaStore) Load(ctx context.Context, id ID) (*SagaInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, state, def_name, steps, cursor, created_at_ms, updated_at_ms, timeout_at_ms
		FROM saga_instances WHERE id = $1
	`, string(id))

	var (
		saga     SagaInstance
		idStr    string
		tenant   string
		stepsRaw []byte
	)
	err := row.Scan(&idStr, &tenant, &saga.State, &saga.DefName, &stepsRaw, &saga.Cursor, &saga.CreatedAtMs, &saga.UpdatedAtMs, &saga.TimeoutAtMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	saga.ID = ID(idStr)
	saga.Tenant = envelope.TenantID(tenant)
	if err := json.Unmarshal(stepsRaw, &saga.Steps); err != nil {
		return nil, err
	}
	return &saga, nil
}

func (s *PgSagaStore) Save(ctx context.Context, saga SagaInstance) error {
	steps, err := json.Marshal(saga.Steps)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_instances
		SET state = $2, steps = $3, cursor = $4, updated_at_ms = $5, timeout_at_ms = $6
		WHERE id = $1
	`, string(saga.ID), saga.State, steps, saga.Cursor, saga.UpdatedAtMs, saga.TimeoutAtMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("saga instance not found")
	}
	return nil
}

// ListNonTerminal returns the IDs of every saga instance for tenant still
// in Running or Compensating state, the Lister SagaWorker needs since
// SagaStore itself has no native "list pending" method.
func (s *PgSagaStore) ListNonTerminal(ctx context.Context, tenant envelope.TenantID) ([]ID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM saga_instances
		WHERE tenant_id = $1 AND state IN ($2, $3)
	`, string(tenant), string(SagaRunning), string(SagaCompensating))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		ids = append(ids, ID(idStr))
	}
	return ids, rows.Err()
}

// PgDeadStore is the relational DeadStore, one row per (kind, ref id).
type PgDeadStore struct {
	pool *pgxpool.Pool
}

func NewPgDeadStore(pool *pgxpool.Pool) *PgDeadStore {
	return &PgDeadStore{pool: pool}
}

func (s *PgDeadStore) Push(ctx context.Context, letter DeadLetter) error {
	payload, err := json.Marshal(letter.Payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dead_letters (kind, ref_id, tenant_id, error, occurred_at_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, ref_id) DO UPDATE
			SET error = EXCLUDED.error, occurred_at_ms = EXCLUDED.occurred_at_ms, payload = EXCLUDED.payload
	`, letter.Reference.Kind, string(letter.Reference.ID), string(letter.Tenant), letter.Error, letter.OccurredAtMs, payload)
	return err
}

func (s *PgDeadStore) List(ctx context.Context, tenant envelope.TenantID, kind *DeadKind, limit int) ([]DeadLetter, error) {
	var rows pgx.Rows
	var err error
	if kind != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT kind, ref_id, tenant_id, error, occurred_at_ms, payload FROM dead_letters
			WHERE tenant_id = $1 AND kind = $2 ORDER BY occurred_at_ms LIMIT $3
		`, string(tenant), *kind, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT kind, ref_id, tenant_id, error, occurred_at_ms, payload FROM dead_letters
			WHERE tenant_id = $1 ORDER BY occurred_at_ms LIMIT $2
		`, string(tenant), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		l, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PgDeadStore) Get(ctx context.Context, ref DeadLetterRef) (*DeadLetter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT kind, ref_id, tenant_id, error, occurred_at_ms, payload FROM dead_letters
		WHERE kind = $1 AND ref_id = $2
	`, ref.Kind, string(ref.ID))
	l, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PgDeadStore) Remove(ctx context.Context, ref DeadLetterRef) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE kind = $1 AND ref_id = $2`, ref.Kind, string(ref.ID))
	return err
}

func (s *PgDeadStore) Replay(ctx context.Context, ref DeadLetterRef) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE kind = $1 AND ref_id = $2`, ref.Kind, string(ref.ID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("dead letter not found")
	}
	return nil
}

func (s *PgDeadStore) PurgeOlderThan(ctx context.Context, tenant envelope.TenantID, beforeMs int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE tenant_id = $1 AND occurred_at_ms < $2`, string(tenant), beforeMs)
	return err
}

func scanDeadLetter(row rowScanner) (DeadLetter, error) {
	var (
		l          DeadLetter
		refID      string
		tenant     string
		payloadRaw []byte
	)
	err := row.Scan(&l.Reference.Kind, &refID, &tenant, &l.Error, &l.OccurredAtMs, &payloadRaw)
	if err != nil {
		return DeadLetter{}, err
	}
	l.Reference.ID = ID(refID)
	l.Tenant = envelope.TenantID(tenant)
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &l.Payload); err != nil {
			return DeadLetter{}, err
		}
	}
	return l, nil
}
