package tx

import (
	"sync"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// BudgetGuard is a pluggable hook invoked at enqueue, dispatch-attempt,
// dispatch-result, and dead-letter points so deployments can enforce
// per-tenant QoS without the dispatcher knowing the policy.
type BudgetGuard interface {
	OnEnqueue(msg OutboxMessage) error
	OnDispatchAttempt(tenant envelope.TenantID, msg OutboxMessage) error
	OnDispatchResult(tenant envelope.TenantID, msg OutboxMessage, success bool) error
	OnDeadLetter(tenant envelope.TenantID, msg OutboxMessage, code string) error
}

// NoopBudgetGuard imposes no limits.
type NoopBudgetGuard struct{}

func (NoopBudgetGuard) OnEnqueue(OutboxMessage) error                             { return nil }
func (NoopBudgetGuard) OnDispatchAttempt(envelope.TenantID, OutboxMessage) error   { return nil }
func (NoopBudgetGuard) OnDispatchResult(envelope.TenantID, OutboxMessage, bool) error {
	return nil
}
func (NoopBudgetGuard) OnDeadLetter(envelope.TenantID, OutboxMessage, string) error { return nil }

// BudgetConfig bounds SimpleBudgetGuard's per-tenant enforcement.
type BudgetConfig struct {
	MaxInflight          *uint32
	MaxDispatchPerWindow *uint32
	WindowSeconds        *uint32
}

type tenantBudget struct {
	inflight      uint32
	windowStartMs int64
	windowCount   uint32
}

// SimpleBudgetGuard enforces per-tenant max_inflight and a fixed-window
// max_dispatch_per_window/window_seconds rate limit (the count resets once
// window_seconds have passed since the window opened), tracked in a single
// mutex-guarded map keyed by tenant.
type SimpleBudgetGuard struct {
	cfg   BudgetConfig
	mu    sync.Mutex
	state map[envelope.TenantID]*tenantBudget
}

func NewSimpleBudgetGuard(cfg BudgetConfig) *SimpleBudgetGuard {
	return &SimpleBudgetGuard{cfg: cfg, state: make(map[envelope.TenantID]*tenantBudget)}
}

// BuildBudgetGuard returns NoopBudgetGuard when cfg has no limits
// configured, else a SimpleBudgetGuard — mirroring the reference
// implementation's constructor-time decision between the two.
func BuildBudgetGuard(cfg BudgetConfig) BudgetGuard {
	if cfg.MaxInflight == nil && cfg.MaxDispatchPerWindow == nil {
		return NoopBudgetGuard{}
	}
	return NewSimpleBudgetGuard(cfg)
}

func (g *SimpleBudgetGuard) entry(tenant envelope.TenantID) *tenantBudget {
	b, ok := g.state[tenant]
	if !ok {
		b = &tenantBudget{}
		g.state[tenant] = b
	}
	return b
}

func (g *SimpleBudgetGuard) OnEnqueue(OutboxMessage) error { return nil }

func (g *SimpleBudgetGuard) OnDispatchAttempt(tenant envelope.TenantID, _ OutboxMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	budget := g.entry(tenant)

	if g.cfg.MaxInflight != nil && budget.inflight >= *g.cfg.MaxInflight {
		return errBudgetExceeded("tenant exceeds max inflight")
	}

	if g.cfg.MaxDispatchPerWindow != nil && g.cfg.WindowSeconds != nil {
		windowMs := int64(*g.cfg.WindowSeconds) * 1000
		if windowMs < 1 {
			windowMs = 1
		}
		if now-budget.windowStartMs >= windowMs {
			budget.windowStartMs = now
			budget.windowCount = 0
		}
		if budget.windowCount >= *g.cfg.MaxDispatchPerWindow {
			return errBudgetExceeded("tenant exceeds dispatch window limit")
		}
		budget.windowCount++
	}

	budget.inflight++
	return nil
}

func (g *SimpleBudgetGuard) OnDispatchResult(tenant envelope.TenantID, _ OutboxMessage, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	budget := g.entry(tenant)
	if budget.inflight > 0 {
		budget.inflight--
	}
	return nil
}

func (g *SimpleBudgetGuard) OnDeadLetter(envelope.TenantID, OutboxMessage, string) error { return nil }
