package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

func TestSweepOnce_ExpiresOverdueHolds(t *testing.T) {
	inventory := newMockInventoryRepo()
	inventory.setStock("t1", "sku-a", "main", 10)
	events := &mockPublisher{}
	sweeper := NewReservationSweeper(inventory, events, zap.NewNop(), time.Minute)

	ctx := context.Background()
	overdue, err := inventory.Reserve(ctx, "t1", "sku-a", "main", 3, time.Nanosecond, "ord-1")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	fresh, err := inventory.Reserve(ctx, "t1", "sku-a", "main", 2, time.Hour, "ord-2")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	sweeper.SweepOnce(ctx)

	if inventory.reservations[overdue.ID].Status != domain.ReservationStatusExpired {
		t.Errorf("overdue reservation status = %s, want EXPIRED", inventory.reservations[overdue.ID].Status)
	}
	if inventory.reservations[fresh.ID].Status != domain.ReservationStatusActive {
		t.Errorf("fresh reservation status = %s, want ACTIVE", inventory.reservations[fresh.ID].Status)
	}

	// Expiry ends the hold; on-hand never moved.
	onHand, reserved, _ := inventory.OnHand(ctx, "t1", "sku-a", "main")
	if onHand != 10 || reserved != 2 {
		t.Errorf("stock = %d/%d, want 10/2", onHand, reserved)
	}

	if seen := events.typesSeen(); seen[domain.EventReservationExpired] != 1 {
		t.Errorf("expected one %s event, got %d", domain.EventReservationExpired, seen[domain.EventReservationExpired])
	}
}

func TestSweepOnce_NoDueHoldsEmitsNothing(t *testing.T) {
	inventory := newMockInventoryRepo()
	inventory.setStock("t1", "sku-a", "main", 10)
	events := &mockPublisher{}
	sweeper := NewReservationSweeper(inventory, events, zap.NewNop(), time.Minute)

	ctx := context.Background()
	if _, err := inventory.Reserve(ctx, "t1", "sku-a", "main", 1, time.Hour, "ord-1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	sweeper.SweepOnce(ctx)

	if len(events.events) != 0 {
		t.Errorf("expected no events, got %d", len(events.events))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	inventory := newMockInventoryRepo()
	sweeper := NewReservationSweeper(inventory, &mockPublisher{}, zap.NewNop(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
