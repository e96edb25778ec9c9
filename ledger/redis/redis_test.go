//go:build integration

package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keywheel/keywheel"
	ledgerredis "github.com/keywheel/keywheel/ledger/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *ledgerredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := ledgerredis.New(client, ledgerredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestReserveUpToLimit(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		granted, err := store.Reserve(ctx, "cred-1", keywheel.ResourceRequests, 3, 1)
		if err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
		if !granted {
			t.Fatalf("reserve %d: expected grant", i+1)
		}
	}

	granted, err := store.Reserve(ctx, "cred-1", keywheel.ResourceRequests, 3, 1)
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if granted {
		t.Fatal("expected denial at the limit")
	}

	used, err := store.Usage(ctx, "cred-1", keywheel.ResourceRequests)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 3 {
		t.Fatalf("expected used=3, got %d", used)
	}
}

func TestFinalizeSettlesWindow(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	granted, err := store.Reserve(ctx, "cred-1", keywheel.ResourceTokens, 1000, 800)
	if err != nil || !granted {
		t.Fatalf("reserve: granted=%v err=%v", granted, err)
	}

	if err := store.Finalize(ctx, "cred-1", keywheel.ResourceTokens, 800, 300); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	used, err := store.Usage(ctx, "cred-1", keywheel.ResourceTokens)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 300 {
		t.Fatalf("expected used=300, got %d", used)
	}
}

func TestFinalizeNeverGoesNegative(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "cred-1", keywheel.ResourceTokens, 1000, 100); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := store.Finalize(ctx, "cred-1", keywheel.ResourceTokens, 500, 10); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	used, err := store.Usage(ctx, "cred-1", keywheel.ResourceTokens)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected used=0, got %d", used)
	}
}

func TestConcurrentReservations(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	const (
		workers = 50
		limit   = 20
	)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Reserve(ctx, "cred-1", keywheel.ResourceRequests, limit, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != limit {
		t.Fatalf("expected exactly %d grants, got %d", limit, got)
	}
}

func TestCredentialsIsolated(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	granted, err := store.Reserve(ctx, "cred-1", keywheel.ResourceRequests, 1, 1)
	if err != nil || !granted {
		t.Fatalf("reserve cred-1: granted=%v err=%v", granted, err)
	}

	granted, err = store.Reserve(ctx, "cred-2", keywheel.ResourceRequests, 1, 1)
	if err != nil {
		t.Fatalf("reserve cred-2: %v", err)
	}
	if !granted {
		t.Fatal("cred-2 should not share cred-1's window")
	}
}

func TestPing(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
