package tx

import (
	"context"
	"testing"
)

func TestIdempotencyCheckAndPutThenReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	digest, err := store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-1", 60_000)
	if err != nil {
		t.Fatalf("first check-and-put: %v", err)
	}
	if digest != nil {
		t.Fatalf("expected nil digest (proceed) on a fresh key, got %v", *digest)
	}

	if err := store.Finish(ctx, "tenant-a", "key-1", "result-digest"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	digest, err = store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-1", 60_000)
	if err != nil {
		t.Fatalf("replay check-and-put: %v", err)
	}
	if digest == nil || *digest != "result-digest" {
		t.Fatalf("expected replayed digest \"result-digest\", got %v", digest)
	}
}

func TestIdempotencyRejectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	if _, err := store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-1", 60_000); err != nil {
		t.Fatalf("first check-and-put: %v", err)
	}

	if _, err := store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-2", 60_000); err == nil {
		t.Fatalf("expected a conflict for a reused key with a different body hash")
	}
}

func TestIdempotencyFailedKeyIsRejectedUntilRetried(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	if _, err := store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-1", 60_000); err != nil {
		t.Fatalf("first check-and-put: %v", err)
	}
	msg := "boom"
	if err := store.Fail(ctx, "tenant-a", "key-1", &msg); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if _, err := store.CheckAndPut(ctx, "tenant-a", "key-1", "hash-1", 60_000); err == nil {
		t.Fatalf("expected an error surfacing the prior failure")
	}
}
