package port

import (
	"context"
	"errors"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// ErrPaymentMethodUnreachable signals that the processor for a method
// could not be contacted. The settlement step falls back to a cash
// disbursement when a refund hits this.
var ErrPaymentMethodUnreachable = errors.New("payment method unreachable")

// PaymentGateway is the external settlement collaborator. Capture
// collects money owed by the customer; Disburse pays money owed to the
// customer.
type PaymentGateway interface {
	Capture(ctx context.Context, tenantID string, method domain.PaymentMethod, amount domain.Amount, orderID string) error
	Disburse(ctx context.Context, tenantID string, method domain.PaymentMethod, amount domain.Amount, orderID string) error
}
