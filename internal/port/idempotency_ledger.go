package port

import (
	"context"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

type BeginOutcome int

const (
	BeginFresh BeginOutcome = iota
	BeginInFlight
	BeginCompleted
)

// IdempotencyLedger binds a (tenant, key) pair to exactly one terminal
// result for a bounded retention window. A key mid-flight blocks
// concurrent duplicates; a completed key returns the stored result.
type IdempotencyLedger interface {
	// Begin claims the key. BeginFresh means this caller owns the
	// attempt; BeginInFlight means another attempt holds it;
	// BeginCompleted returns the previously bound result.
	Begin(ctx context.Context, tenantID, key string) (BeginOutcome, *domain.ExchangeResult, error)

	// Complete binds the terminal result to the key.
	Complete(ctx context.Context, tenantID, key string, result *domain.ExchangeResult) error

	// Abandon frees an in-flight key so a later retry sees Fresh again.
	// Validation failures do not poison the key.
	Abandon(ctx context.Context, tenantID, key string) error
}
