package authz

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDecisionCacheTTLZeroNeverExpires(t *testing.T) {
	c := NewMemoryDecisionCache()
	now := time.Now()
	tick := now
	c.now = func() time.Time { return tick }

	key := DecisionKey{Tenant: "t1", SubjectID: "s1"}
	c.Put(context.Background(), key, Decision{Allow: true, CacheTTLMs: 0})

	tick = now.Add(365 * 24 * time.Hour)
	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("expected TTL=0 entry to never expire")
	}
}

func TestMemoryDecisionCacheExpiresOnRead(t *testing.T) {
	c := NewMemoryDecisionCache()
	now := time.Now()
	tick := now
	c.now = func() time.Time { return tick }

	key := DecisionKey{Tenant: "t1", SubjectID: "s1"}
	c.Put(context.Background(), key, Decision{Allow: true, CacheTTLMs: 1000})

	tick = now.Add(500 * time.Millisecond)
	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("expected entry within TTL to be present")
	}

	tick = now.Add(1500 * time.Millisecond)
	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("expected entry past TTL to be expired")
	}

	// Expired entry must be removed, not merely hidden.
	c.mu.RLock()
	_, stillThere := c.entries[key]
	c.mu.RUnlock()
	if stillThere {
		t.Fatal("expected expired entry to be removed from the map")
	}
}

func TestHashAttrsIsOrderIndependent(t *testing.T) {
	a := AttributeMap{"b": 2, "a": 1}
	b := AttributeMap{"a": 1, "b": 2}
	if HashAttrs(a) != HashAttrs(b) {
		t.Fatal("expected semantically equal maps to hash equally regardless of key order")
	}
}

func TestMergeJSONRightBiasedWithNullPreservation(t *testing.T) {
	left := AttributeMap{"a": 1, "nested": map[string]any{"x": 1, "y": 2}}
	right := AttributeMap{"a": nil, "nested": map[string]any{"y": 3}, "b": 2}

	merged := MergeJSON(left, right)
	if merged["a"] != 1 {
		t.Errorf("expected null on RHS to preserve LHS value, got %v", merged["a"])
	}
	if merged["b"] != 2 {
		t.Errorf("expected new RHS-only key to appear, got %v", merged["b"])
	}
	nested := merged["nested"].(map[string]any)
	if nested["x"] != 1 || nested["y"] != 3 {
		t.Errorf("expected nested merge to keep x from LHS and overwrite y from RHS, got %v", nested)
	}
}
