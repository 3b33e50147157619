package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/port"
)

// ReservationSweeper periodically expires overdue ACTIVE reservations.
// An expired reservation is treated like a released one for stock
// accounting: no decrement ever happened, the hold simply ends.
type ReservationSweeper struct {
	inventory port.InventoryRepository
	events    port.EventPublisher
	logger    *zap.Logger
	interval  time.Duration
}

func NewReservationSweeper(inventory port.InventoryRepository, events port.EventPublisher, logger *zap.Logger, interval time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		inventory: inventory,
		events:    events,
		logger:    logger,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires everything due right now and emits one audit event
// per expired reservation.
func (s *ReservationSweeper) SweepOnce(ctx context.Context) {
	expired, err := s.inventory.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("expiration sweep failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Info("expired reservations", zap.Int("count", len(expired)))
	for _, res := range expired {
		ev := domain.Event{
			Type:       domain.EventReservationExpired,
			TenantID:   res.TenantID,
			Key:        res.ID,
			OccurredAt: time.Now().UTC(),
			Payload: domain.ReservationExpiredPayload{
				ReservationID: res.ID,
				SKU:           res.SKU,
				LocationID:    res.LocationID,
				Quantity:      res.Quantity,
			},
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Error("audit event publish failed",
				zap.String("event_type", ev.Type),
				zap.String("reservation_id", res.ID),
				zap.Error(err))
		}
	}
}
