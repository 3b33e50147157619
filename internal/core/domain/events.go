package domain

import "time"

// Audit event types consumed by the external event bus.
const (
	EventRefundIssued       = "refund.issued"
	EventOrderCreated       = "order.created"
	EventExchangeCompleted  = "exchange.completed"
	EventReservationExpired = "inventory.reservation.expired"
)

// Event is an audit record published after a state change. Key selects
// the partition; payloads are the structs below.
type Event struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	Key        string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type RefundIssuedPayload struct {
	RefundID      string `json:"refund_id"`
	OrderID       string `json:"order_id"`
	RefundedCents int64  `json:"refunded_cents"`
}

type OrderCreatedPayload struct {
	OrderID           string `json:"order_id"`
	ExchangeOfOrderID string `json:"exchange_of_order_id,omitempty"`
	TotalCents        int64  `json:"total_cents"`
}

type ExchangeCompletedPayload struct {
	OriginalOrderID string `json:"original_order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	NetDeltaCents   int64  `json:"net_delta_cents"`
}

type ReservationExpiredPayload struct {
	ReservationID string `json:"reservation_id"`
	SKU           string `json:"sku"`
	LocationID    string `json:"location_id"`
	Quantity      int    `json:"quantity"`
}
