package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/exchange-engine/internal/core/domain"
)

// MySQLInventoryStore owns on-hand counters and reservation rows. Every
// shared-counter mutation is a guarded conditional UPDATE checked via
// RowsAffected; the loser of a concurrent race fails cleanly instead of
// double-transitioning.
type MySQLInventoryStore struct {
	db *sql.DB
}

func NewMySQLInventoryStore(db *sql.DB) *MySQLInventoryStore {
	return &MySQLInventoryStore{db: db}
}

// Reserve atomically claims quantity against on_hand minus the active
// reserved counter and records an ACTIVE reservation. The guard
// `on_hand - reserved >= ?` is what keeps concurrent reservations from
// jointly overselling.
func (m *MySQLInventoryStore) Reserve(ctx context.Context, tenantID, sku, locationID string, quantity int, ttl time.Duration, orderRef string) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("non-positive reserve quantity: %w", domain.ErrInvalidRequest)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = reserved + ?, updated_at = ?
		WHERE tenant_id = ? AND sku = ? AND location_id = ? AND on_hand - reserved >= ?`,
		quantity, time.Now().UTC(), tenantID, sku, locationID, quantity)
	if err != nil {
		return nil, fmt.Errorf("reserve inventory: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, &domain.InventoryUnavailableError{SKU: sku, LocationID: locationID, Requested: quantity}
	}

	res := &domain.Reservation{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		SKU:        sku,
		LocationID: locationID,
		Quantity:   quantity,
		Status:     domain.ReservationStatusActive,
		OrderRef:   orderRef,
		CreatedAt:  time.Now().UTC(),
	}
	var expiresAt any
	if ttl > 0 {
		res.ExpiresAt = res.CreatedAt.Add(ttl)
		expiresAt = res.ExpiresAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, tenant_id, sku, location_id, quantity, status, order_ref, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.TenantID, res.SKU, res.LocationID, res.Quantity, res.Status, res.OrderRef, res.CreatedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return res, nil
}

// Commit consumes an ACTIVE reservation: the hold ends and on-hand is
// decremented by the reserved quantity.
func (m *MySQLInventoryStore) Commit(ctx context.Context, reservationID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := m.lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		domain.ReservationStatusConsumed, reservationID, domain.ReservationStatusActive)
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("reservation %s is %s: %w", reservationID, res.Status, domain.ErrInvalidReservationState)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET on_hand = on_hand - ?, reserved = reserved - ?, updated_at = ?
		WHERE tenant_id = ? AND sku = ? AND location_id = ?`,
		res.Quantity, res.Quantity, time.Now().UTC(), res.TenantID, res.SKU, res.LocationID)
	if err != nil {
		return fmt.Errorf("consume inventory: %w", err)
	}

	return tx.Commit()
}

// Release ends an ACTIVE hold without touching on-hand; stock was never
// decremented for an uncommitted reservation. Releasing an already
// terminal reservation is a no-op success so compensation retries are
// safe.
func (m *MySQLInventoryStore) Release(ctx context.Context, reservationID string) error {
	return m.endHold(ctx, reservationID, domain.ReservationStatusReleased)
}

func (m *MySQLInventoryStore) endHold(ctx context.Context, reservationID string, to domain.ReservationStatus) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := m.lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		to, reservationID, domain.ReservationStatusActive)
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Already terminal.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = reserved - ?, updated_at = ?
		WHERE tenant_id = ? AND sku = ? AND location_id = ?`,
		res.Quantity, time.Now().UTC(), res.TenantID, res.SKU, res.LocationID)
	if err != nil {
		return fmt.Errorf("release inventory hold: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLInventoryStore) lockReservation(ctx context.Context, tx *sql.Tx, reservationID string) (*domain.Reservation, error) {
	var (
		res       domain.Reservation
		expiresAt sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, sku, location_id, quantity, status, order_ref, created_at, expires_at
		FROM reservations WHERE id = ? FOR UPDATE`, reservationID,
	).Scan(&res.ID, &res.TenantID, &res.SKU, &res.LocationID, &res.Quantity,
		&res.Status, &res.OrderRef, &res.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s not found: %w", reservationID, domain.ErrInvalidReservationState)
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	if expiresAt.Valid {
		res.ExpiresAt = expiresAt.Time
	}
	return &res, nil
}

// Restock is a direct on-hand adjustment for returned items; returned
// stock is immediately re-sellable rather than provisionally held. A
// negative quantity reverses an earlier restock during compensation.
func (m *MySQLInventoryStore) Restock(ctx context.Context, tenantID, sku, locationID string, quantity int) error {
	if quantity == 0 {
		return nil
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (tenant_id, sku, location_id, on_hand, reserved, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON DUPLICATE KEY UPDATE on_hand = on_hand + VALUES(on_hand), updated_at = VALUES(updated_at)`,
		tenantID, sku, locationID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("restock inventory: %w", err)
	}
	return nil
}

// ExpireDue transitions every overdue ACTIVE reservation to EXPIRED,
// using the same guarded transition as Release so a sweep racing a
// concurrent commit cannot double-transition.
func (m *MySQLInventoryStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id FROM reservations
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		domain.ReservationStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("query due reservations: %w", err)
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reservation id: %w", err)
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []domain.Reservation
	for _, id := range due {
		if err := m.endHold(ctx, id, domain.ReservationStatusExpired); err != nil {
			return expired, err
		}
		res, err := m.getReservation(ctx, id)
		if err != nil {
			return expired, err
		}
		// A commit that won the race leaves the reservation CONSUMED;
		// only sweep winners are reported.
		if res.Status == domain.ReservationStatusExpired {
			expired = append(expired, *res)
		}
	}
	return expired, nil
}

func (m *MySQLInventoryStore) getReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var (
		res       domain.Reservation
		expiresAt sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sku, location_id, quantity, status, order_ref, created_at, expires_at
		FROM reservations WHERE id = ?`, reservationID,
	).Scan(&res.ID, &res.TenantID, &res.SKU, &res.LocationID, &res.Quantity,
		&res.Status, &res.OrderRef, &res.CreatedAt, &expiresAt)
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	if expiresAt.Valid {
		res.ExpiresAt = expiresAt.Time
	}
	return &res, nil
}

func (m *MySQLInventoryStore) OnHand(ctx context.Context, tenantID, sku, locationID string) (int, int, error) {
	var onHand, reserved int
	err := m.db.QueryRowContext(ctx, `
		SELECT on_hand, reserved FROM inventory
		WHERE tenant_id = ? AND sku = ? AND location_id = ?`,
		tenantID, sku, locationID,
	).Scan(&onHand, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("query inventory: %w", err)
	}
	return onHand, reserved, nil
}
