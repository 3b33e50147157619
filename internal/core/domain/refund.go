package domain

import "time"

// RefundLine records the returned quantity and computed amount for one
// order line.
type RefundLine struct {
	OrderItemID string
	SKU         string
	Quantity    int
	Amount      Amount
}

// Refund is an immutable record of a settled partial or full return.
// It is computed by the refund calculator and persisted only once the
// exchange saga reaches its commit step.
type Refund struct {
	ID        string
	TenantID  string
	OrderID   string
	Lines     []RefundLine
	Amount    Amount
	CreatedAt time.Time
}

// RestockInstruction tells the inventory manager to put returned
// quantity back on hand. Returned stock is immediately re-sellable, so
// restocking is a direct increment rather than a reservation.
type RestockInstruction struct {
	SKU      string
	Quantity int
}
