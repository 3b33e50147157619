package port

import (
	"context"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

type OrderRepository interface {
	// GetOrder loads a tenant's order with its items.
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error)

	// ApplyRefund persists the refund record and increments each affected
	// line's refunded_quantity with a compare-and-increment that
	// re-validates the refundable balance at commit time. The order's
	// status advances to PARTIAL_REFUNDED or REFUNDED in the same
	// transaction.
	ApplyRefund(ctx context.Context, refund *domain.Refund) error

	// RevertRefund compensates a previously applied refund: each line's
	// refunded_quantity is decremented, the refund record is removed and
	// the order's status is recomputed, all in one transaction.
	RevertRefund(ctx context.Context, refund *domain.Refund) error

	// CreateExchangeOrder persists a replacement order carrying the
	// exchange_of_order_id back-link.
	CreateExchangeOrder(ctx context.Context, order *domain.Order) error

	// ListExchanges returns all replacement orders created against the
	// given original order, via the indexed back-link.
	ListExchanges(ctx context.Context, tenantID, originalOrderID string) ([]domain.Order, error)
}
