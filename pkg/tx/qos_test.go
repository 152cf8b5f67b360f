package tx

import "testing"

func TestBuildBudgetGuardReturnsNoopWhenUnconfigured(t *testing.T) {
	g := BuildBudgetGuard(BudgetConfig{})
	if _, ok := g.(NoopBudgetGuard); !ok {
		t.Fatalf("expected NoopBudgetGuard for an empty config, got %T", g)
	}
}

func TestSimpleBudgetGuardEnforcesMaxInflight(t *testing.T) {
	max := uint32(1)
	g := NewSimpleBudgetGuard(BudgetConfig{MaxInflight: &max})

	msg := OutboxMessage{ID: "ob-1", Tenant: "tenant-a"}
	if err := g.OnDispatchAttempt("tenant-a", msg); err != nil {
		t.Fatalf("first attempt should be allowed: %v", err)
	}
	if err := g.OnDispatchAttempt("tenant-a", msg); err == nil {
		t.Fatalf("second concurrent attempt should be rejected by max inflight")
	}

	if err := g.OnDispatchResult("tenant-a", msg, true); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := g.OnDispatchAttempt("tenant-a", msg); err != nil {
		t.Fatalf("attempt after release should be allowed: %v", err)
	}
}

func TestSimpleBudgetGuardIsolatesTenants(t *testing.T) {
	max := uint32(1)
	g := NewSimpleBudgetGuard(BudgetConfig{MaxInflight: &max})

	msgA := OutboxMessage{ID: "ob-1", Tenant: "tenant-a"}
	msgB := OutboxMessage{ID: "ob-2", Tenant: "tenant-b"}

	if err := g.OnDispatchAttempt("tenant-a", msgA); err != nil {
		t.Fatalf("tenant-a attempt: %v", err)
	}
	if err := g.OnDispatchAttempt("tenant-b", msgB); err != nil {
		t.Fatalf("tenant-b attempt should be unaffected by tenant-a's budget: %v", err)
	}
}
