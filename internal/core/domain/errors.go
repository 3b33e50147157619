package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotRefundable      = errors.New("order not refundable")
	ErrRequestInFlight         = errors.New("request already in flight")
	ErrInvalidReservationState = errors.New("invalid reservation state")
)

// RefundableQuantityExceededError names the order line whose requested
// return quantity exceeds its remaining refundable balance.
type RefundableQuantityExceededError struct {
	OrderItemID string
	Requested   int
	Refundable  int
}

func (e *RefundableQuantityExceededError) Error() string {
	return fmt.Sprintf("refundable quantity exceeded for item %s: requested %d, refundable %d",
		e.OrderItemID, e.Requested, e.Refundable)
}

// InventoryUnavailableError names the product that could not be reserved.
type InventoryUnavailableError struct {
	SKU        string
	LocationID string
	Requested  int
}

func (e *InventoryUnavailableError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s at %s: requested %d",
		e.SKU, e.LocationID, e.Requested)
}
