package interceptor

import (
	"context"
	"testing"
	"time"
)

func TestIdempotencyStageShortCircuitsOnReplay(t *testing.T) {
	store := NewMemoryIdempotencyStore(0)
	layer := &IdempotencyLayer{Store: store}
	ctx := context.Background()

	key := buildIdempotencyKey("tenant-a", "POST", "/v1/widgets", "key-1")
	if err := store.Put(ctx, key, 201, map[string]string{"X-Extra": "yes"}, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	stage := IdempotencyStage{Layer: layer}
	ic := NewContext()
	ic.TenantHeader = "tenant-a"
	req := &fakeRequest{method: "POST", path: "/v1/widgets", headers: map[string]string{"Idempotency-Key": "key-1"}}

	outcome, err := stage.HandleRequest(ctx, req, ic)
	if err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if outcome != ShortCircuit {
		t.Fatal("expected a store hit to short-circuit")
	}
	if !ic.IdempotencyReplay {
		t.Fatal("expected IdempotencyReplay to be set")
	}
	if ic.ResponseStatus != 201 || string(ic.ResponseBody) != `{"id":1}` {
		t.Fatalf("expected the stored response to be restored, got status=%d body=%s", ic.ResponseStatus, ic.ResponseBody)
	}
}

func TestIdempotencyStageIgnoresGETRequests(t *testing.T) {
	store := NewMemoryIdempotencyStore(0)
	stage := IdempotencyStage{Layer: &IdempotencyLayer{Store: store}}
	ic := NewContext()
	req := &fakeRequest{method: "GET", path: "/v1/widgets", headers: map[string]string{"Idempotency-Key": "key-1"}}

	outcome, err := stage.HandleRequest(context.Background(), req, ic)
	if err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if outcome != Continue {
		t.Fatal("expected GET requests to bypass the idempotency stage entirely")
	}
}

func TestMemoryIdempotencyStoreExpiresAfterTTL(t *testing.T) {
	store := NewMemoryIdempotencyStore(1)
	ctx := context.Background()
	if err := store.Put(ctx, "k", 200, nil, []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	// TTL=1ms: an immediate read still hits; once the TTL has elapsed the
	// entry is evicted and the read misses.
	if _, hit, err := store.Get(ctx, "k"); err != nil || !hit {
		t.Fatalf("expected an immediate hit before any delay, hit=%v err=%v", hit, err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, hit, err := store.Get(ctx, "k"); err != nil || hit {
		t.Fatalf("expected a miss after the TTL elapsed, hit=%v err=%v", hit, err)
	}
}
