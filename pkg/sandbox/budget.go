package sandbox

import (
	"context"
	"sync"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// BudgetMeter reserves, commits, and rolls back a tenant/subject's resource
// consumption around one execution.
type BudgetMeter interface {
	Reserve(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, request Budget) error
	Commit(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget)
	Rollback(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget)
}

// NoopBudgetMeter tracks nothing; useful when the caller enforces budgets
// entirely through the profile's own Limits.
type NoopBudgetMeter struct{}

func (NoopBudgetMeter) Reserve(context.Context, envelope.TenantID, envelope.SubjectID, Budget) error {
	return nil
}
func (NoopBudgetMeter) Commit(context.Context, envelope.TenantID, envelope.SubjectID, Budget)   {}
func (NoopBudgetMeter) Rollback(context.Context, envelope.TenantID, envelope.SubjectID, Budget) {}

// InMemoryBudgetMeter accumulates consumed Budget per (tenant, subject),
// single mutex guarding the whole map per the one-mutex-per-subsystem
// model used throughout this package.
type InMemoryBudgetMeter struct {
	mu    sync.Mutex
	spent map[string]Budget
}

func NewInMemoryBudgetMeter() *InMemoryBudgetMeter {
	return &InMemoryBudgetMeter{spent: make(map[string]Budget)}
}

func budgetKey(tenant envelope.TenantID, subject envelope.SubjectID) string {
	return string(tenant) + ":" + string(subject)
}

func (m *InMemoryBudgetMeter) Reserve(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, request Budget) error {
	return nil
}

func (m *InMemoryBudgetMeter) Commit(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := budgetKey(tenant, subject)
	total := m.spent[key]
	total.AddAssign(used)
	m.spent[key] = total
}

func (m *InMemoryBudgetMeter) Rollback(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget) {}

// Spent returns the accumulated committed budget for a (tenant, subject).
func (m *InMemoryBudgetMeter) Spent(tenant envelope.TenantID, subject envelope.SubjectID) Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[budgetKey(tenant, subject)]
}
