package service

import (
	"fmt"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// ReturnLine is a requested return of quantity against one order line.
type ReturnLine struct {
	OrderItemID string
	Quantity    int
}

// RefundCalculator computes the refundable amount for a subset of an
// order's lines. It has no side effects; the orchestrator persists the
// result in its commit step.
type RefundCalculator struct{}

func NewRefundCalculator() *RefundCalculator {
	return &RefundCalculator{}
}

// Calculate returns an uncommitted refund plus restock instructions.
//
// The order's stored discount and tax are allocated across its lines
// proportional to each line's share of subtotal, with both rounding
// remainders assigned to the last line, reproducing the allocation used
// when the order's totals were computed. Returning 100% of the lines
// therefore refunds exactly the order's total.
//
// Per-line amounts telescope over prior partial refunds: the amount for
// returning quantity q is f(refunded+q) - f(refunded), where f(k) is the
// rounded share for k units. Cumulative refunds against a line can never
// drift past its full allocation.
func (c *RefundCalculator) Calculate(order *domain.Order, requests []ReturnLine) (*domain.Refund, []domain.RestockInstruction, error) {
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		item := order.Item(req.OrderItemID)
		if item == nil {
			return nil, nil, fmt.Errorf("unknown order item %s: %w", req.OrderItemID, domain.ErrInvalidRequest)
		}
		// Duplicates would each telescope from the same starting
		// refunded_quantity and could overshoot the line's allocation
		// by a rounding cent.
		if seen[req.OrderItemID] {
			return nil, nil, fmt.Errorf("duplicate return line for item %s: %w", req.OrderItemID, domain.ErrInvalidRequest)
		}
		seen[req.OrderItemID] = true
		if req.Quantity <= 0 {
			return nil, nil, fmt.Errorf("non-positive return quantity for item %s: %w", req.OrderItemID, domain.ErrInvalidRequest)
		}
		if req.Quantity > item.RefundableQuantity() {
			return nil, nil, &domain.RefundableQuantityExceededError{
				OrderItemID: req.OrderItemID,
				Requested:   req.Quantity,
				Refundable:  item.RefundableQuantity(),
			}
		}
	}

	discounts, taxes, err := allocateTotals(order)
	if err != nil {
		return nil, nil, err
	}

	refund := &domain.Refund{OrderID: order.ID, TenantID: order.TenantID}
	restock := make([]domain.RestockInstruction, 0, len(requests))

	for _, req := range requests {
		item := order.Item(req.OrderItemID)
		idx := lineIndex(order, req.OrderItemID)

		full, err := item.LineTotal.Sub(discounts[idx])
		if err != nil {
			return nil, nil, err
		}
		full, err = full.Add(taxes[idx])
		if err != nil {
			return nil, nil, err
		}

		after, err := full.MulDiv(int64(item.RefundedQuantity+req.Quantity), int64(item.Quantity), domain.RoundHalfUp)
		if err != nil {
			return nil, nil, err
		}
		before, err := full.MulDiv(int64(item.RefundedQuantity), int64(item.Quantity), domain.RoundHalfUp)
		if err != nil {
			return nil, nil, err
		}
		amount, err := after.Sub(before)
		if err != nil {
			return nil, nil, err
		}

		refund.Lines = append(refund.Lines, domain.RefundLine{
			OrderItemID: item.ID,
			SKU:         item.SKU,
			Quantity:    req.Quantity,
			Amount:      amount,
		})
		refund.Amount, err = refund.Amount.Add(amount)
		if err != nil {
			return nil, nil, err
		}

		restock = append(restock, domain.RestockInstruction{SKU: item.SKU, Quantity: req.Quantity})
	}

	return refund, restock, nil
}

// allocateTotals splits the order's discount and tax across its lines
// proportional to each line's share of subtotal. Remainders land on the
// last line so the shares sum exactly to the stored totals.
func allocateTotals(order *domain.Order) (discounts, taxes []domain.Amount, err error) {
	n := len(order.Items)
	discounts = make([]domain.Amount, n)
	taxes = make([]domain.Amount, n)

	if order.Subtotal.IsZero() {
		return discounts, taxes, nil
	}

	var dSum, tSum domain.Amount
	for i, item := range order.Items {
		if i == n-1 {
			discounts[i], err = order.Discount.Sub(dSum)
			if err != nil {
				return nil, nil, err
			}
			taxes[i], err = order.Tax.Sub(tSum)
			if err != nil {
				return nil, nil, err
			}
			break
		}
		discounts[i], err = order.Discount.MulDiv(item.LineTotal.Cents(), order.Subtotal.Cents(), domain.RoundTruncate)
		if err != nil {
			return nil, nil, err
		}
		taxes[i], err = order.Tax.MulDiv(item.LineTotal.Cents(), order.Subtotal.Cents(), domain.RoundTruncate)
		if err != nil {
			return nil, nil, err
		}
		dSum, err = dSum.Add(discounts[i])
		if err != nil {
			return nil, nil, err
		}
		tSum, err = tSum.Add(taxes[i])
		if err != nil {
			return nil, nil, err
		}
	}
	return discounts, taxes, nil
}

func lineIndex(order *domain.Order, itemID string) int {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}
