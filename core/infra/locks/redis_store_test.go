package locks

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreAcquireRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "schedule:abc:1700000000", "engine-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, err=%v ok=%v", err, ok)
	}
	if ok, err := store.Acquire(ctx, "schedule:abc:1700000000", "engine-b", time.Minute); err != nil || ok {
		t.Fatalf("expected second owner to be refused, err=%v ok=%v", err, ok)
	}
	if ok, err := store.Acquire(ctx, "schedule:abc:1700000000", "engine-a", time.Minute); err != nil || !ok {
		t.Fatalf("expected re-acquire by owner, err=%v ok=%v", err, ok)
	}
	if ok, _ := store.Release(ctx, "schedule:abc:1700000000", "engine-b"); ok {
		t.Fatalf("non-owner release must fail")
	}
	if ok, err := store.Release(ctx, "schedule:abc:1700000000", "engine-a"); err != nil || !ok {
		t.Fatalf("expected release ok, err=%v ok=%v", err, ok)
	}
	if ok, err := store.Acquire(ctx, "schedule:abc:1700000000", "engine-b", time.Minute); err != nil || !ok {
		t.Fatalf("expected acquire after release, err=%v ok=%v", err, ok)
	}
}

func TestRedisStoreRenewAndExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if ok, err := store.Acquire(ctx, "instance:a", "a", 2*time.Second); err != nil || !ok {
		t.Fatalf("acquire: err=%v ok=%v", err, ok)
	}
	mr.FastForward(time.Second)
	if ok, err := store.Renew(ctx, "instance:a", "a", 2*time.Second); err != nil || !ok {
		t.Fatalf("renew: err=%v ok=%v", err, ok)
	}
	mr.FastForward(1500 * time.Millisecond)
	owner, err := store.Owner(ctx, "instance:a")
	if err != nil || owner != "a" {
		t.Fatalf("expected lease to survive renew, owner=%q err=%v", owner, err)
	}
	mr.FastForward(time.Second)
	owner, err = store.Owner(ctx, "instance:a")
	if err != nil || owner != "" {
		t.Fatalf("expected lease expired, owner=%q err=%v", owner, err)
	}
	if ok, _ := store.Renew(ctx, "instance:a", "a", time.Second); ok {
		t.Fatalf("renew of expired lease must fail")
	}
}

func TestRedisStoreValidation(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Acquire(context.Background(), " ", "a", time.Second); err == nil {
		t.Fatalf("expected error for empty resource")
	}
	if _, err := store.Owner(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty resource")
	}
	var nilStore *RedisStore
	if _, err := nilStore.Release(context.Background(), "r", "o"); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
