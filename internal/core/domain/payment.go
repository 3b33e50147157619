package domain

// PaymentMethod is the closed set of settlement instruments. Keeping it
// a closed enum lets the settlement step switch exhaustively instead of
// dispatching on arbitrary strings.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

// ParsePaymentMethod validates wire input against the closed set.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentMethodCard, PaymentMethodCash, PaymentMethodCrypto:
		return PaymentMethod(s), nil
	default:
		return "", ErrInvalidRequest
	}
}

type SettlementStatus string

const (
	SettlementCaptured SettlementStatus = "captured"
	SettlementFailed   SettlementStatus = "failed"
	SettlementPending  SettlementStatus = "pending"
)

type NetDirection string

const (
	NetDirectionCollect NetDirection = "collect"
	NetDirectionRefund  NetDirection = "refund"
)
