package domain

// ExchangeResult is the terminal outcome of an exchange. It is both the
// HTTP response body and the payload bound to the idempotency key, so a
// replay returns the exact bytes of the first completion.
type ExchangeResult struct {
	OriginalOrderID string            `json:"original_order_id"`
	ExchangeOrderID string            `json:"exchange_order_id"`
	Refund          RefundSummary     `json:"refund"`
	NewOrder        NewOrderSummary   `json:"new_order"`
	NetDeltaCents   int64             `json:"net_delta_cents"`
	NetDirection    NetDirection      `json:"net_direction"`
	Payment         SettlementSummary `json:"payment"`
}

type RefundSummary struct {
	RefundID      string `json:"refund_id"`
	RefundedCents int64  `json:"refunded_cents"`
}

type NewOrderSummary struct {
	OrderID string      `json:"order_id"`
	Totals  TotalsCents `json:"totals"`
}

type TotalsCents struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type SettlementSummary struct {
	Method      string           `json:"method"`
	Status      SettlementStatus `json:"status"`
	AmountCents int64            `json:"amount_cents"`
}
