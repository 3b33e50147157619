package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// MySQLCatalogStore resolves SKUs to unit prices. Catalog management is
// owned elsewhere; this adapter only reads.
type MySQLCatalogStore struct {
	db *sql.DB
}

func NewMySQLCatalogStore(db *sql.DB) *MySQLCatalogStore {
	return &MySQLCatalogStore{db: db}
}

func (m *MySQLCatalogStore) UnitPrice(ctx context.Context, tenantID, sku string) (domain.Amount, error) {
	var cents int64
	err := m.db.QueryRowContext(ctx, `
		SELECT unit_price_cents FROM products WHERE tenant_id = ? AND sku = ?`,
		tenantID, sku,
	).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Amount{}, fmt.Errorf("unknown sku %s: %w", sku, domain.ErrInvalidRequest)
	}
	if err != nil {
		return domain.Amount{}, fmt.Errorf("query product price: %w", err)
	}
	return domain.AmountFromCents(cents)
}
