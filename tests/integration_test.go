package tests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/adapter/payment"
	"github.com/rl1809/exchange-engine/internal/adapter/storage"
	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/core/service"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	svc     *service.ExchangeService
	cleanup func()
}

// dropPublisher satisfies the event port without a broker; audit
// delivery has its own adapter tests.
type dropPublisher struct{}

func (dropPublisher) Publish(ctx context.Context, event domain.Event) error { return nil }

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/exchange?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	logger := zap.NewNop()
	svc := service.NewExchangeService(
		storage.NewMySQLOrderStore(db),
		storage.NewMySQLInventoryStore(db),
		storage.NewMySQLCatalogStore(db),
		storage.NewRedisLedger(rdb, time.Hour),
		payment.NewProcessorGateway(payment.Config{}, logger),
		dropPublisher{},
		logger,
		service.ExchangeConfig{
			LocationID:     "main",
			TaxRateBP:      0,
			ReservationTTL: time.Hour,
		})

	return &testEnv{
		redis: rdb,
		mysql: db,
		svc:   svc,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

// seedExchangeFixture creates a cash-paid COMPLETED order of 2x sku-old
// at 10.00, a 15.00 replacement product, and its stock.
func seedExchangeFixture(t *testing.T, db *sql.DB, prefix string, stock int) (orderID, itemID, newSKU string) {
	t.Helper()
	ctx := context.Background()
	orderID = prefix + "-order"
	itemID = prefix + "-item"
	newSKU = prefix + "-new-sku"

	db.ExecContext(ctx, `DELETE FROM refund_lines WHERE refund_id IN (SELECT id FROM refunds WHERE order_id = ?)`, orderID)
	db.ExecContext(ctx, `DELETE FROM refunds WHERE order_id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM (SELECT id FROM orders WHERE id = ? OR exchange_of_order_id = ?) x)`, orderID, orderID)
	db.ExecContext(ctx, `DELETE FROM orders WHERE exchange_of_order_id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM reservations WHERE tenant_id = 'itest-tenant' AND sku = ?`, newSKU)

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, status, payment_method,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			exchange_of_order_id, created_at, updated_at)
		VALUES (?, 'itest-tenant', 'COMPLETED', 'cash', 2000, 0, 0, 2000, NULL, ?, ?)`,
		orderID, now, now); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, sku, quantity, unit_price_cents, line_total_cents, refunded_quantity)
		VALUES (?, ?, ?, 2, 1000, 2000, 0)`,
		itemID, orderID, prefix+"-old-sku"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO products (tenant_id, sku, unit_price_cents)
		VALUES ('itest-tenant', ?, 1500)
		ON DUPLICATE KEY UPDATE unit_price_cents = 1500`, newSKU); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO inventory (tenant_id, sku, location_id, on_hand, reserved, updated_at)
		VALUES ('itest-tenant', ?, 'main', ?, 0, NOW())
		ON DUPLICATE KEY UPDATE on_hand = ?, reserved = 0`, newSKU, stock, stock); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return orderID, itemID, newSKU
}

func TestIntegration_FullExchangeFlow(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	orderID, itemID, newSKU := seedExchangeFixture(t, env.mysql, "itest-full", 5)

	// Return one 10.00 unit, buy one 15.00 unit: collect 5.00 in cash.
	result, err := env.svc.ExecuteExchange(ctx, service.ExchangeRequest{
		TenantID:        "itest-tenant",
		OriginalOrderID: orderID,
		ReturnLines:     []service.ReturnLine{{OrderItemID: itemID, Quantity: 1}},
		NewLines:        []service.NewLine{{SKU: newSKU, Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCash,
		IdempotencyKey:  "itest-full-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("ExecuteExchange failed: %v", err)
	}

	if result.NetDeltaCents != 500 || result.NetDirection != domain.NetDirectionCollect {
		t.Errorf("net = %d %s, want 500 collect", result.NetDeltaCents, result.NetDirection)
	}
	if result.Payment.Status != domain.SettlementCaptured {
		t.Errorf("payment status = %s, want captured", result.Payment.Status)
	}

	// Refund persisted and the original order advanced
	var refundCents int64
	env.mysql.QueryRowContext(ctx, `SELECT amount_cents FROM refunds WHERE id = ?`, result.Refund.RefundID).Scan(&refundCents)
	if refundCents != 1000 {
		t.Errorf("refund amount = %d, want 1000", refundCents)
	}
	var status string
	env.mysql.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&status)
	if status != string(domain.OrderStatusPartialRefunded) {
		t.Errorf("original status = %s, want PARTIAL_REFUNDED", status)
	}

	// Replacement order exists with the back-link
	var exchangeOf string
	env.mysql.QueryRowContext(ctx, `SELECT exchange_of_order_id FROM orders WHERE id = ?`, result.ExchangeOrderID).Scan(&exchangeOf)
	if exchangeOf != orderID {
		t.Errorf("back-link = %s, want %s", exchangeOf, orderID)
	}

	// Returned unit restocked, replacement consumed, no lingering hold
	var onHand, reserved int
	env.mysql.QueryRowContext(ctx, `
		SELECT on_hand, reserved FROM inventory
		WHERE tenant_id = 'itest-tenant' AND sku = ? AND location_id = 'main'`, newSKU,
	).Scan(&onHand, &reserved)
	if onHand != 4 || reserved != 0 {
		t.Errorf("replacement stock = %d/%d, want 4/0", onHand, reserved)
	}
	var resStatus string
	env.mysql.QueryRowContext(ctx, `
		SELECT status FROM reservations WHERE tenant_id = 'itest-tenant' AND sku = ? ORDER BY created_at DESC LIMIT 1`, newSKU,
	).Scan(&resStatus)
	if resStatus != string(domain.ReservationStatusConsumed) {
		t.Errorf("reservation status = %s, want CONSUMED", resStatus)
	}
}

func TestIntegration_IdempotentReplay(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	orderID, itemID, newSKU := seedExchangeFixture(t, env.mysql, "itest-replay", 5)

	req := service.ExchangeRequest{
		TenantID:        "itest-tenant",
		OriginalOrderID: orderID,
		ReturnLines:     []service.ReturnLine{{OrderItemID: itemID, Quantity: 1}},
		NewLines:        []service.NewLine{{SKU: newSKU, Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCash,
		IdempotencyKey:  "itest-replay-" + uuid.NewString(),
	}

	first, err := env.svc.ExecuteExchange(ctx, req)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := env.svc.ExecuteExchange(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if second.ExchangeOrderID != first.ExchangeOrderID || second.Refund.RefundID != first.Refund.RefundID {
		t.Errorf("replay produced different result: %+v vs %+v", first, second)
	}

	// Exactly one refund and one replacement order
	var refundCount, orderCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM refunds WHERE order_id = ?`, orderID).Scan(&refundCount)
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE exchange_of_order_id = ?`, orderID).Scan(&orderCount)
	if refundCount != 1 || orderCount != 1 {
		t.Errorf("refunds = %d, exchange orders = %d, want 1/1", refundCount, orderCount)
	}

	var onHand int
	env.mysql.QueryRowContext(ctx, `
		SELECT on_hand FROM inventory
		WHERE tenant_id = 'itest-tenant' AND sku = ? AND location_id = 'main'`, newSKU,
	).Scan(&onHand)
	if onHand != 4 {
		t.Errorf("replacement on_hand = %d, want 4", onHand)
	}
}

func TestIntegration_RollbackOnExhaustedStock(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	orderID, itemID, newSKU := seedExchangeFixture(t, env.mysql, "itest-rollback", 0)

	_, err := env.svc.ExecuteExchange(ctx, service.ExchangeRequest{
		TenantID:        "itest-tenant",
		OriginalOrderID: orderID,
		ReturnLines:     []service.ReturnLine{{OrderItemID: itemID, Quantity: 1}},
		NewLines:        []service.NewLine{{SKU: newSKU, Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCash,
		IdempotencyKey:  "itest-rollback-" + uuid.NewString(),
	})
	var unavailable *domain.InventoryUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected InventoryUnavailableError, got %v", err)
	}

	// Nothing persisted: no refund, no increment, original untouched
	var refundCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM refunds WHERE order_id = ?`, orderID).Scan(&refundCount)
	if refundCount != 0 {
		t.Errorf("refunds = %d, want 0", refundCount)
	}
	var refunded int
	env.mysql.QueryRowContext(ctx, `SELECT refunded_quantity FROM order_items WHERE id = ?`, itemID).Scan(&refunded)
	if refunded != 0 {
		t.Errorf("refunded_quantity = %d, want 0", refunded)
	}
	var status string
	env.mysql.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&status)
	if status != string(domain.OrderStatusCompleted) {
		t.Errorf("original status = %s, want COMPLETED", status)
	}
}

func TestIntegration_ConcurrentExchangesBoundedByStock(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	prefix := "itest-concurrent"
	orderID := prefix + "-order"
	newSKU := prefix + "-new-sku"
	initialStock := 3
	totalRequests := 10

	// One order with enough refundable units for every contender
	env.mysql.ExecContext(ctx, `DELETE FROM refund_lines WHERE refund_id IN (SELECT id FROM refunds WHERE order_id = ?)`, orderID)
	env.mysql.ExecContext(ctx, `DELETE FROM refunds WHERE order_id = ?`, orderID)
	env.mysql.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM (SELECT id FROM orders WHERE id = ? OR exchange_of_order_id = ?) x)`, orderID, orderID)
	env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE exchange_of_order_id = ?`, orderID)
	env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	env.mysql.ExecContext(ctx, `DELETE FROM reservations WHERE tenant_id = 'itest-tenant' AND sku = ?`, newSKU)

	now := time.Now().UTC()
	env.mysql.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, status, payment_method,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			exchange_of_order_id, created_at, updated_at)
		VALUES (?, 'itest-tenant', 'COMPLETED', 'cash', 10000, 0, 0, 10000, NULL, ?, ?)`,
		orderID, now, now)
	env.mysql.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, sku, quantity, unit_price_cents, line_total_cents, refunded_quantity)
		VALUES (?, ?, ?, 10, 1000, 10000, 0)`,
		prefix+"-item", orderID, prefix+"-old-sku")
	env.mysql.ExecContext(ctx, `
		INSERT INTO products (tenant_id, sku, unit_price_cents)
		VALUES ('itest-tenant', ?, 1500)
		ON DUPLICATE KEY UPDATE unit_price_cents = 1500`, newSKU)
	env.mysql.ExecContext(ctx, `
		INSERT INTO inventory (tenant_id, sku, location_id, on_hand, reserved, updated_at)
		VALUES ('itest-tenant', ?, 'main', ?, 0, NOW())
		ON DUPLICATE KEY UPDATE on_hand = ?, reserved = 0`, newSKU, initialStock, initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.svc.ExecuteExchange(ctx, service.ExchangeRequest{
				TenantID:        "itest-tenant",
				OriginalOrderID: orderID,
				ReturnLines:     []service.ReturnLine{{OrderItemID: prefix + "-item", Quantity: 1}},
				NewLines:        []service.NewLine{{SKU: newSKU, Quantity: 1}},
				PaymentMethod:   domain.PaymentMethodCash,
				IdempotencyKey:  fmt.Sprintf("itest-concurrent-%d-%s", n, uuid.NewString()),
			})
			if err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}

	var onHand, reserved int
	env.mysql.QueryRowContext(ctx, `
		SELECT on_hand, reserved FROM inventory
		WHERE tenant_id = 'itest-tenant' AND sku = ? AND location_id = 'main'`, newSKU,
	).Scan(&onHand, &reserved)
	if onHand != 0 || reserved != 0 {
		t.Errorf("stock = %d/%d, want 0/0", onHand, reserved)
	}

	// Refunded quantity matches the winners exactly
	var refunded int
	env.mysql.QueryRowContext(ctx, `SELECT refunded_quantity FROM order_items WHERE id = ?`, prefix+"-item").Scan(&refunded)
	if refunded != initialStock {
		t.Errorf("refunded_quantity = %d, want %d", refunded, initialStock)
	}
}
