package tx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// MemoryOutboxStore is an in-process OutboxStore for tests and single-node
// demos; every method holds one mutex for the duration of the call.
type MemoryOutboxStore struct {
	mu   sync.Mutex
	rows map[ID]OutboxMessage
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{rows: make(map[ID]OutboxMessage)}
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, n NewOutboxMessage) (OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	msg := BuildOutboxMessage(n, now)
	if msg.ID == "" {
		msg.ID = newID("ob")
	}
	s.rows[msg.ID] = msg
	return msg, nil
}

func (s *MemoryOutboxStore) LeaseBatch(_ context.Context, tenant envelope.TenantID, nowMs, leaseMs int64, batch int, workerID string, groupByDispatchKey bool) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]OutboxMessage, 0, len(s.rows))
	for _, m := range s.rows {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].NotBeforeMs != all[j].NotBeforeMs {
			return all[i].NotBeforeMs < all[j].NotBeforeMs
		}
		if all[i].CreatedAtMs != all[j].CreatedAtMs {
			return all[i].CreatedAtMs < all[j].CreatedAtMs
		}
		return all[i].ID < all[j].ID
	})

	ids := SelectMessages(all, tenant, nowMs, batch, workerID, groupByDispatchKey)
	leased := make([]OutboxMessage, 0, len(ids))
	leaseUntil := nowMs + leaseMs
	for _, id := range ids {
		m := s.rows[id]
		m.Status = OutboxLeased
		m.LeaseUntil = &leaseUntil
		m.Worker = &workerID
		s.rows[id] = m
		leased = append(leased, m)
	}
	return leased, nil
}

func (s *MemoryOutboxStore) AckDone(_ context.Context, tenant envelope.TenantID, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return errNotFound("outbox message not found")
	}
	m.Status = OutboxDone
	m.LeaseUntil = nil
	m.Worker = nil
	s.rows[id] = m
	return nil
}

func (s *MemoryOutboxStore) NackBackoff(_ context.Context, tenant envelope.TenantID, id ID, notBeforeMs int64, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return errNotFound("outbox message not found")
	}
	m.Status = OutboxPending
	m.Attempts++
	m.NotBeforeMs = notBeforeMs
	m.LastError = errMsg
	m.LeaseUntil = nil
	m.Worker = nil
	s.rows[id] = m
	return nil
}

func (s *MemoryOutboxStore) DeadLetter(_ context.Context, tenant envelope.TenantID, id ID, errMsg *string) (DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return DeadLetter{}, errNotFound("outbox message not found")
	}
	m.Status = OutboxDead
	m.Attempts++
	m.LastError = errMsg
	m.LeaseUntil = nil
	m.Worker = nil
	s.rows[id] = m
	return BuildDeadLetter(m, errMsg, time.Now().UnixMilli()), nil
}

func (s *MemoryOutboxStore) Heartbeat(_ context.Context, tenant envelope.TenantID, id ID, leaseUntilMs int64, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return errNotFound("outbox message not found")
	}
	m.LeaseUntil = &leaseUntilMs
	m.Worker = &workerID
	s.rows[id] = m
	return nil
}

func (s *MemoryOutboxStore) Revive(_ context.Context, tenant envelope.TenantID, id ID, atMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return errNotFound("outbox message not found")
	}
	m.Status = OutboxPending
	m.NotBeforeMs = atMs
	m.LeaseUntil = nil
	m.Worker = nil
	s.rows[id] = m
	return nil
}

func (s *MemoryOutboxStore) Get(_ context.Context, tenant envelope.TenantID, id ID) (*OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Tenant != tenant {
		return nil, nil
	}
	cp := m
	return &cp, nil
}

// MemoryIdempotencyStore is an in-process IdempotencyStore for tests.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	rows map[string]IdempoRecord
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{rows: make(map[string]IdempoRecord)}
}

func idempoKey(tenant envelope.TenantID, key string) string {
	return string(tenant) + "/" + key
}

// CheckAndPut returns (nil, nil) when the caller should proceed with a
// fresh InFlight record, (*digest, nil) when a prior Succeeded result can
// be replayed verbatim, and an error for a hash mismatch or a prior
// Failed/in-progress attempt.
func (s *MemoryIdempotencyStore) CheckAndPut(_ context.Context, tenant envelope.TenantID, key, hash string, ttlMs uint64) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	k := idempoKey(tenant, key)
	existing, ok := s.rows[k]
	if !ok {
		s.rows[k] = BuildRecord(tenant, key, hash, ttlMs, now)
		return nil, nil
	}

	expired := existing.Status == IdempoInFlight && now-existing.UpdatedAtMs > int64(existing.TTLMs)
	if expired {
		s.rows[k] = BuildRecord(tenant, key, hash, ttlMs, now)
		return nil, nil
	}

	if existing.Hash != hash {
		return nil, errConflict("idempotency key reused with a different request body")
	}

	switch existing.Status {
	case IdempoSucceeded:
		return existing.ResultDigest, nil
	case IdempoFailed:
		return nil, errIdempoFailed()
	default:
		return nil, errIdempoBusy()
	}
}

func (s *MemoryIdempotencyStore) Finish(_ context.Context, tenant envelope.TenantID, key, resultDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempoKey(tenant, key)
	rec, ok := s.rows[k]
	if !ok {
		return errNotFound("idempotency record not found")
	}
	rec.Status = IdempoSucceeded
	rec.ResultDigest = &resultDigest
	rec.UpdatedAtMs = time.Now().UnixMilli()
	s.rows[k] = rec
	return nil
}

func (s *MemoryIdempotencyStore) Fail(_ context.Context, tenant envelope.TenantID, key string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempoKey(tenant, key)
	rec, ok := s.rows[k]
	if !ok {
		return errNotFound("idempotency record not found")
	}
	rec.Status = IdempoFailed
	rec.LastError = errMsg
	rec.UpdatedAtMs = time.Now().UnixMilli()
	s.rows[k] = rec
	return nil
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, tenant envelope.TenantID, key string) (*IdempoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[idempoKey(tenant, key)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

// MemorySagaStore is an in-process SagaStore for tests.
type MemorySagaStore struct {
	mu   sync.Mutex
	rows map[ID]SagaInstance
}

func NewMemorySagaStore() *MemorySagaStore {
	return &MemorySagaStore{rows: make(map[ID]SagaInstance)}
}

func (s *MemorySagaStore) Insert(_ context.Context, saga SagaInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[saga.ID]; ok {
		return errConflict("saga instance already exists")
	}
	s.rows[saga.ID] = saga
	return nil
}

func (s *MemorySagaStore) Load(_ context.Context, id ID) (*SagaInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saga, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := saga
	return &cp, nil
}

func (s *MemorySagaStore) Save(_ context.Context, saga SagaInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[saga.ID]; !ok {
		return errNotFound("saga instance not found")
	}
	s.rows[saga.ID] = saga
	return nil
}

// MemoryDeadStore is an in-process DeadStore for tests. Replay removes the
// row from the dead store; re-driving the underlying outbox/saga entity is
// the caller's responsibility (the dead store only records poison, it does
// not know how to re-enqueue).
type MemoryDeadStore struct {
	mu   sync.Mutex
	rows map[DeadLetterRef]DeadLetter
}

func NewMemoryDeadStore() *MemoryDeadStore {
	return &MemoryDeadStore{rows: make(map[DeadLetterRef]DeadLetter)}
}

func (s *MemoryDeadStore) Push(_ context.Context, letter DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[letter.Reference] = letter
	return nil
}

func (s *MemoryDeadStore) List(_ context.Context, tenant envelope.TenantID, kind *DeadKind, limit int) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, 0)
	for _, l := range s.rows {
		if l.Tenant != tenant {
			continue
		}
		if kind != nil && l.Kind() != *kind {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAtMs < out[j].OccurredAtMs })
	return out, nil
}

func (s *MemoryDeadStore) Get(_ context.Context, ref DeadLetterRef) (*DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[ref]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (s *MemoryDeadStore) Remove(_ context.Context, ref DeadLetterRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, ref)
	return nil
}

// Replay clears the dead-letter row, signalling the caller may re-drive
// the underlying message; it does not itself touch OutboxStore/SagaStore.
func (s *MemoryDeadStore) Replay(_ context.Context, ref DeadLetterRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ref]; !ok {
		return errNotFound("dead letter not found")
	}
	delete(s.rows, ref)
	return nil
}

func (s *MemoryDeadStore) PurgeOlderThan(_ context.Context, tenant envelope.TenantID, beforeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, l := range s.rows {
		if l.Tenant == tenant && l.OccurredAtMs < beforeMs {
			delete(s.rows, ref)
		}
	}
	return nil
}

func newID(prefix string) ID {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return ID(prefix + "-" + hex.EncodeToString(buf))
}
