package port

import (
	"context"
	"time"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

type InventoryRepository interface {
	// Reserve atomically checks on_hand minus active reservations and
	// creates an ACTIVE reservation, or fails with
	// *domain.InventoryUnavailableError without side effects.
	Reserve(ctx context.Context, tenantID, sku, locationID string, quantity int, ttl time.Duration, orderRef string) (*domain.Reservation, error)

	// Commit transitions ACTIVE to CONSUMED and decrements on-hand.
	// Any other starting state fails with domain.ErrInvalidReservationState.
	Commit(ctx context.Context, reservationID string) error

	// Release transitions ACTIVE to RELEASED. Releasing an already
	// terminal reservation is a no-op success, so compensation retries
	// are safe.
	Release(ctx context.Context, reservationID string) error

	// Restock directly increments on-hand for returned items.
	Restock(ctx context.Context, tenantID, sku, locationID string, quantity int) error

	// ExpireDue transitions every ACTIVE reservation whose expiry has
	// passed to EXPIRED and returns the reservations it transitioned.
	ExpireDue(ctx context.Context, now time.Time) ([]domain.Reservation, error)

	// OnHand reports the current on-hand and actively reserved quantity.
	OnHand(ctx context.Context, tenantID, sku, locationID string) (onHand, reserved int, err error)
}
