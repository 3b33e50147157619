package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusPartialRefunded OrderStatus = "PARTIAL_REFUNDED"
	OrderStatusRefunded        OrderStatus = "REFUNDED"
	OrderStatusVoided          OrderStatus = "VOIDED"
)

type OrderItem struct {
	ID               string
	OrderID          string
	SKU              string
	Quantity         int
	UnitPrice        Amount
	LineTotal        Amount
	RefundedQuantity int
}

// RefundableQuantity is the quantity that may still be returned.
func (i OrderItem) RefundableQuantity() int {
	return i.Quantity - i.RefundedQuantity
}

// Order is a tenant-scoped aggregate. ExchangeOfOrderID is non-empty
// only when this order was created as the replacement side of an
// exchange; exactly one hop is modeled, a replacement order never links
// onward to another exchange.
type Order struct {
	ID                string
	TenantID          string
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	Items             []OrderItem
	Subtotal          Amount
	Discount          Amount
	Tax               Amount
	Total             Amount
	ExchangeOfOrderID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Refundable reports whether the order is in a status eligible for returns.
func (o *Order) Refundable() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusPartialRefunded
}

// FullyRefunded reports whether every line has been returned in full.
func (o *Order) FullyRefunded() bool {
	for _, item := range o.Items {
		if item.RefundedQuantity < item.Quantity {
			return false
		}
	}
	return len(o.Items) > 0
}

// Item returns the line with the given id, or nil.
func (o *Order) Item(itemID string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

// ComputeOrderTotals derives subtotal, discount, tax and total for a set
// of lines. discountBP and taxRateBP are basis points. The tax base is
// the discounted subtotal, the same rule used at checkout.
func ComputeOrderTotals(items []OrderItem, discountBP, taxRateBP int64) (subtotal, discount, tax, total Amount, err error) {
	lineTotals := make([]Amount, len(items))
	for i, item := range items {
		lineTotals[i], err = item.UnitPrice.MulInt(int64(item.Quantity))
		if err != nil {
			return
		}
	}
	subtotal, err = SumAmounts(lineTotals...)
	if err != nil {
		return
	}
	discount, err = subtotal.MulDiv(discountBP, 10000, RoundHalfUp)
	if err != nil {
		return
	}
	base, berr := subtotal.Sub(discount)
	if berr != nil {
		err = berr
		return
	}
	tax, err = base.MulDiv(taxRateBP, 10000, RoundHalfUp)
	if err != nil {
		return
	}
	total, err = base.Add(tax)
	return
}
