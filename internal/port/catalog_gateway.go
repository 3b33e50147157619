package port

import (
	"context"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// CatalogGateway resolves a SKU to its current unit price. Catalog
// management lives outside this core; only the price lookup is needed
// to build a replacement order.
type CatalogGateway interface {
	UnitPrice(ctx context.Context, tenantID, sku string) (domain.Amount, error)
}
