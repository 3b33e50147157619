package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestLedgerBegin_FreshThenInFlight(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:test-key")

	outcome, _, err := ledger.Begin(ctx, "t1", "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginFresh {
		t.Errorf("expected fresh, got %v", outcome)
	}

	// Second begin while the first is unfinished
	outcome, _, err = ledger.Begin(ctx, "t1", "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginInFlight {
		t.Errorf("expected inflight, got %v", outcome)
	}
}

func TestLedgerBegin_CompletedReplay(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:replay-key")

	if outcome, _, _ := ledger.Begin(ctx, "t1", "replay-key"); outcome != port.BeginFresh {
		t.Fatalf("expected fresh, got %v", outcome)
	}

	bound := &domain.ExchangeResult{
		OriginalOrderID: "ord-1",
		NetDeltaCents:   747,
		NetDirection:    domain.NetDirectionCollect,
		Payment: domain.SettlementSummary{
			Method:      "card",
			Status:      domain.SettlementCaptured,
			AmountCents: 747,
		},
	}
	if err := ledger.Complete(ctx, "t1", "replay-key", bound); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	outcome, result, err := ledger.Begin(ctx, "t1", "replay-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginCompleted {
		t.Fatalf("expected completed, got %v", outcome)
	}
	if result.NetDeltaCents != 747 || result.Payment.Status != domain.SettlementCaptured {
		t.Errorf("unexpected replayed result: %+v", result)
	}
}

func TestLedgerAbandon_FreesKey(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:abandon-key")

	if outcome, _, _ := ledger.Begin(ctx, "t1", "abandon-key"); outcome != port.BeginFresh {
		t.Fatalf("expected fresh, got %v", outcome)
	}
	if err := ledger.Abandon(ctx, "t1", "abandon-key"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	outcome, _, err := ledger.Begin(ctx, "t1", "abandon-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginFresh {
		t.Errorf("expected fresh after abandon, got %v", outcome)
	}
}

func TestLedgerAbandon_DoesNotEraseBoundResult(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:race-key")

	ledger.Begin(ctx, "t1", "race-key")
	if err := ledger.Complete(ctx, "t1", "race-key", &domain.ExchangeResult{OriginalOrderID: "ord-1"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// A late abandon from the same attempt must be a no-op.
	if err := ledger.Abandon(ctx, "t1", "race-key"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	outcome, result, err := ledger.Begin(ctx, "t1", "race-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginCompleted || result.OriginalOrderID != "ord-1" {
		t.Errorf("bound result was erased: outcome=%v result=%+v", outcome, result)
	}
}

func TestLedgerBegin_InFlightMarkerHasShortTTL(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:ttl-key")

	if outcome, _, _ := ledger.Begin(ctx, "t1", "ttl-key"); outcome != port.BeginFresh {
		t.Fatalf("expected fresh, got %v", outcome)
	}

	// The marker must lapse on its own well before the result retention,
	// so a crashed attempt cannot hold the key for days.
	ttl, err := client.TTL(ctx, "exchange:idem:t1:ttl-key").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > inFlightTTL {
		t.Errorf("in-flight TTL = %v, want (0, %v]", ttl, inFlightTTL)
	}

	// A bound result keeps the full retention window.
	if err := ledger.Complete(ctx, "t1", "ttl-key", &domain.ExchangeResult{OriginalOrderID: "ord-1"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	ttl, err = client.TTL(ctx, "exchange:idem:t1:ttl-key").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= inFlightTTL {
		t.Errorf("result TTL = %v, want more than %v", ttl, inFlightTTL)
	}
}

func TestLedgerBegin_TenantIsolation(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:shared-key", "exchange:idem:t2:shared-key")

	if outcome, _, _ := ledger.Begin(ctx, "t1", "shared-key"); outcome != port.BeginFresh {
		t.Fatalf("expected fresh for t1, got %v", outcome)
	}

	// The same key under another tenant is an independent slot.
	outcome, _, err := ledger.Begin(ctx, "t2", "shared-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != port.BeginFresh {
		t.Errorf("expected fresh for t2, got %v", outcome)
	}
}

func TestLedgerBegin_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client, time.Hour)

	// Setup
	client.Del(ctx, "exchange:idem:t1:concurrent-key")

	var freshCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := ledger.Begin(ctx, "t1", "concurrent-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if outcome == port.BeginFresh {
				freshCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one caller wins the key.
	if freshCount.Load() != 1 {
		t.Errorf("expected exactly 1 fresh, got %d", freshCount.Load())
	}
}
