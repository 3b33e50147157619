package port

import (
	"context"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// EventPublisher hands audit events to the external event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
