package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// MySQLOrderStore persists orders, their items, refunds and the
// parent-to-exchange-order linkage.
type MySQLOrderStore struct {
	db *sql.DB
}

func NewMySQLOrderStore(db *sql.DB) *MySQLOrderStore {
	return &MySQLOrderStore{db: db}
}

func (m *MySQLOrderStore) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	order, err := m.scanOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if err := m.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (m *MySQLOrderStore) scanOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	var (
		order              domain.Order
		subtotal, discount int64
		tax, total         int64
		exchangeOf         sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, payment_method,
		       subtotal_cents, discount_cents, tax_cents, total_cents,
		       exchange_of_order_id, created_at, updated_at
		FROM orders WHERE tenant_id = ? AND id = ?`, tenantID, orderID,
	).Scan(&order.ID, &order.TenantID, &order.Status, &order.PaymentMethod,
		&subtotal, &discount, &tax, &total,
		&exchangeOf, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if order.Subtotal, err = domain.AmountFromCents(subtotal); err != nil {
		return nil, err
	}
	if order.Discount, err = domain.AmountFromCents(discount); err != nil {
		return nil, err
	}
	if order.Tax, err = domain.AmountFromCents(tax); err != nil {
		return nil, err
	}
	if order.Total, err = domain.AmountFromCents(total); err != nil {
		return nil, err
	}
	if exchangeOf.Valid {
		order.ExchangeOfOrderID = exchangeOf.String
	}
	return &order, nil
}

func (m *MySQLOrderStore) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, sku, quantity, unit_price_cents, line_total_cents, refunded_quantity
		FROM order_items WHERE order_id = ? ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      domain.OrderItem
			unitPrice int64
			lineTotal int64
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.SKU, &item.Quantity,
			&unitPrice, &lineTotal, &item.RefundedQuantity); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = domain.AmountFromCents(unitPrice); err != nil {
			return err
		}
		if item.LineTotal, err = domain.AmountFromCents(lineTotal); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

// ApplyRefund increments each affected line with a compare-and-increment
// so the refundable-balance invariant is re-validated at commit time,
// not only at calculation time. Two concurrent exchanges reading the
// same stale balance cannot both win.
func (m *MySQLOrderStore) ApplyRefund(ctx context.Context, refund *domain.Refund) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, line := range refund.Lines {
		result, err := tx.ExecContext(ctx, `
			UPDATE order_items
			SET refunded_quantity = refunded_quantity + ?
			WHERE id = ? AND order_id = ? AND refunded_quantity + ? <= quantity`,
			line.Quantity, line.OrderItemID, refund.OrderID, line.Quantity)
		if err != nil {
			return fmt.Errorf("increment refunded quantity: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			var quantity, refunded int
			err := tx.QueryRowContext(ctx, `
				SELECT quantity, refunded_quantity FROM order_items
				WHERE id = ? AND order_id = ?`, line.OrderItemID, refund.OrderID,
			).Scan(&quantity, &refunded)
			if err != nil {
				return fmt.Errorf("order item %s: %w", line.OrderItemID, domain.ErrOrderNotFound)
			}
			return &domain.RefundableQuantityExceededError{
				OrderItemID: line.OrderItemID,
				Requested:   line.Quantity,
				Refundable:  quantity - refunded,
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refunds (id, tenant_id, order_id, amount_cents, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		refund.ID, refund.TenantID, refund.OrderID, refund.Amount.Cents(), refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	for _, line := range refund.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO refund_lines (refund_id, order_item_id, sku, quantity, amount_cents)
			VALUES (?, ?, ?, ?, ?)`,
			refund.ID, line.OrderItemID, line.SKU, line.Quantity, line.Amount.Cents())
		if err != nil {
			return fmt.Errorf("insert refund line: %w", err)
		}
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_items
		WHERE order_id = ? AND refunded_quantity < quantity`, refund.OrderID,
	).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("count unreturned items: %w", err)
	}

	status := domain.OrderStatusRefunded
	if remaining > 0 {
		status = domain.OrderStatusPartialRefunded
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		status, time.Now().UTC(), refund.OrderID, refund.TenantID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	return tx.Commit()
}

// RevertRefund is the compensation for ApplyRefund. The guarded
// decrement mirrors the increment so a revert can never push a line's
// refunded_quantity negative.
func (m *MySQLOrderStore) RevertRefund(ctx context.Context, refund *domain.Refund) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, line := range refund.Lines {
		result, err := tx.ExecContext(ctx, `
			UPDATE order_items
			SET refunded_quantity = refunded_quantity - ?
			WHERE id = ? AND order_id = ? AND refunded_quantity >= ?`,
			line.Quantity, line.OrderItemID, refund.OrderID, line.Quantity)
		if err != nil {
			return fmt.Errorf("decrement refunded quantity: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("revert refund %s: line %s no longer holds quantity %d",
				refund.ID, line.OrderItemID, line.Quantity)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM refund_lines WHERE refund_id = ?`, refund.ID); err != nil {
		return fmt.Errorf("delete refund lines: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refunds WHERE id = ?`, refund.ID); err != nil {
		return fmt.Errorf("delete refund: %w", err)
	}

	var refundedLines, partialLines int
	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(IF(refunded_quantity >= quantity, 1, NULL)),
			COUNT(IF(refunded_quantity > 0, 1, NULL))
		FROM order_items WHERE order_id = ?`, refund.OrderID,
	).Scan(&refundedLines, &partialLines)
	if err != nil {
		return fmt.Errorf("count refunded items: %w", err)
	}
	var total int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_items WHERE order_id = ?`, refund.OrderID,
	).Scan(&total)
	if err != nil {
		return fmt.Errorf("count order items: %w", err)
	}

	status := domain.OrderStatusCompleted
	switch {
	case total > 0 && refundedLines == total:
		status = domain.OrderStatusRefunded
	case partialLines > 0:
		status = domain.OrderStatusPartialRefunded
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		status, time.Now().UTC(), refund.OrderID, refund.TenantID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLOrderStore) CreateExchangeOrder(ctx context.Context, order *domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exchangeOf any
	if order.ExchangeOfOrderID != "" {
		exchangeOf = order.ExchangeOfOrderID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, status, payment_method,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			exchange_of_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.TenantID, order.Status, order.PaymentMethod,
		order.Subtotal.Cents(), order.Discount.Cents(), order.Tax.Cents(), order.Total.Cents(),
		exchangeOf, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, sku, quantity,
				unit_price_cents, line_total_cents, refunded_quantity)
			VALUES (?, ?, ?, ?, ?, ?, 0)`,
			item.ID, item.OrderID, item.SKU, item.Quantity,
			item.UnitPrice.Cents(), item.LineTotal.Cents())
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLOrderStore) ListExchanges(ctx context.Context, tenantID, originalOrderID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE tenant_id = ? AND exchange_of_order_id = ?
		ORDER BY created_at`, tenantID, originalOrderID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exchange id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := m.GetOrder(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}
