package authz

import (
	"context"
	"sync"
)

// MemoryQuotaStore is an in-process QuotaStore. check_and_consume semantics
// per spec §4.2: if used >= limit → BudgetExceeded; else if used+cost >
// limit → RateLimited; else consume and Allow.
type MemoryQuotaStore struct {
	mu     sync.Mutex
	limits map[QuotaKey]int64
	used   map[QuotaKey]int64
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{limits: make(map[QuotaKey]int64), used: make(map[QuotaKey]int64)}
}

// SetLimit configures the budget limit for a key. Call before first use.
func (m *MemoryQuotaStore) SetLimit(key QuotaKey, limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[key] = limit
}

func (m *MemoryQuotaStore) CheckAndConsume(ctx context.Context, key QuotaKey, cost int64) (QuotaOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, ok := m.limits[key]
	if !ok {
		// No configured limit means unrestricted.
		return QuotaAllowed, nil
	}

	used := m.used[key]
	if used >= limit {
		return QuotaBudgetExceeded, nil
	}
	if used+cost > limit {
		return QuotaRateLimited, nil
	}
	m.used[key] = used + cost
	return QuotaAllowed, nil
}
