package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "ACTIVE"
	ReservationStatusReleased ReservationStatus = "RELEASED"
	ReservationStatusExpired  ReservationStatus = "EXPIRED"
	ReservationStatusConsumed ReservationStatus = "CONSUMED"
)

// Reservation is a provisional hold against inventory at one location.
// ACTIVE transitions to exactly one of RELEASED, EXPIRED or CONSUMED;
// all three are terminal. Rows are never deleted, the terminal status
// is the audit trail.
type Reservation struct {
	ID         string
	TenantID   string
	SKU        string
	LocationID string
	Quantity   int
	Status     ReservationStatus
	OrderRef   string
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no expiration
}

// Terminal reports whether the reservation has left ACTIVE.
func (r *Reservation) Terminal() bool {
	return r.Status != ReservationStatusActive
}
