package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
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

const (
	tenantID      = "stress-tenant"
	orderID       = "stress-order"
	orderItemID   = "stress-order-item"
	returnedSKU   = "stress-old-sku"
	hotSKU        = "stress-hot-sku"
	locationID    = "main"
	initialStock  = 20
	totalRequests = 50
)

type dropPublisher struct{}

func (dropPublisher) Publish(ctx context.Context, event domain.Event) error { return nil }

func main() {
	ctx := context.Background()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/exchange?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}

	seed(ctx, db)

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
			LocationID:     locationID,
			TaxRateBP:      0,
			ReservationTTL: time.Hour,
		})

	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := svc.ExecuteExchange(ctx, service.ExchangeRequest{
				TenantID:        tenantID,
				OriginalOrderID: orderID,
				ReturnLines:     []service.ReturnLine{{OrderItemID: orderItemID, Quantity: 1}},
				NewLines:        []service.NewLine{{SKU: hotSKU, Quantity: 1}},
				PaymentMethod:   domain.PaymentMethodCash,
				IdempotencyKey:  fmt.Sprintf("stress-%d-%s", n, uuid.NewString()),
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d exchanges succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	var onHand, reserved int
	db.QueryRowContext(ctx, `
		SELECT on_hand, reserved FROM inventory
		WHERE tenant_id = ? AND sku = ? AND location_id = ?`,
		tenantID, hotSKU, locationID,
	).Scan(&onHand, &reserved)
	fmt.Printf("Final Stock:       %d on hand, %d reserved\n", onHand, reserved)

	if onHand == 0 && reserved == 0 {
		fmt.Println("PASS: Replacement stock fully consumed, no lingering holds")
	} else {
		fmt.Printf("FAIL: Expected 0/0, got %d/%d\n", onHand, reserved)
	}

	var refunded int
	db.QueryRowContext(ctx, `SELECT refunded_quantity FROM order_items WHERE id = ?`, orderItemID).Scan(&refunded)
	if refunded == initialStock {
		fmt.Printf("PASS: Refunded quantity matches winners (%d)\n", refunded)
	} else {
		fmt.Printf("FAIL: Expected refunded quantity %d, got %d\n", initialStock, refunded)
	}
}

// seed resets the stress fixture: one cash order with enough refundable
// units for every contender and a replacement SKU with limited stock.
func seed(ctx context.Context, db *sql.DB) {
	db.ExecContext(ctx, `DELETE FROM refund_lines WHERE refund_id IN (SELECT id FROM refunds WHERE order_id = ?)`, orderID)
	db.ExecContext(ctx, `DELETE FROM refunds WHERE order_id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM (SELECT id FROM orders WHERE id = ? OR exchange_of_order_id = ?) x)`, orderID, orderID)
	db.ExecContext(ctx, `DELETE FROM orders WHERE exchange_of_order_id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	db.ExecContext(ctx, `DELETE FROM reservations WHERE tenant_id = ? AND sku = ?`, tenantID, hotSKU)

	now := time.Now().UTC()
	mustExec(ctx, db, `
		INSERT INTO orders (id, tenant_id, status, payment_method,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			exchange_of_order_id, created_at, updated_at)
		VALUES (?, ?, 'COMPLETED', 'cash', ?, 0, 0, ?, NULL, ?, ?)`,
		orderID, tenantID, totalRequests*1000, totalRequests*1000, now, now)
	mustExec(ctx, db, `
		INSERT INTO order_items (id, order_id, sku, quantity, unit_price_cents, line_total_cents, refunded_quantity)
		VALUES (?, ?, ?, ?, 1000, ?, 0)`,
		orderItemID, orderID, returnedSKU, totalRequests, totalRequests*1000)
	mustExec(ctx, db, `
		INSERT INTO products (tenant_id, sku, unit_price_cents)
		VALUES (?, ?, 1500)
		ON DUPLICATE KEY UPDATE unit_price_cents = 1500`, tenantID, hotSKU)
	mustExec(ctx, db, `
		INSERT INTO inventory (tenant_id, sku, location_id, on_hand, reserved, updated_at)
		VALUES (?, ?, ?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE on_hand = ?, reserved = 0`,
		tenantID, hotSKU, locationID, initialStock, initialStock)
	mustExec(ctx, db, `
		INSERT INTO inventory (tenant_id, sku, location_id, on_hand, reserved, updated_at)
		VALUES (?, ?, ?, 0, 0, NOW())
		ON DUPLICATE KEY UPDATE on_hand = 0, reserved = 0`,
		tenantID, returnedSKU, locationID)

	fmt.Printf("Seeded order %s with %d refundable units and %d units of %s\n",
		orderID, totalRequests, initialStock, hotSKU)
}

func mustExec(ctx context.Context, db *sql.DB, query string, args ...any) {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}
