package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/adapter/events"
	"github.com/rl1809/exchange-engine/internal/adapter/handler"
	"github.com/rl1809/exchange-engine/internal/adapter/payment"
	"github.com/rl1809/exchange-engine/internal/adapter/storage"
	"github.com/rl1809/exchange-engine/internal/config"
	"github.com/rl1809/exchange-engine/internal/core/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Adapters
	orderStore := storage.NewMySQLOrderStore(db)
	inventoryStore := storage.NewMySQLInventoryStore(db)
	catalogStore := storage.NewMySQLCatalogStore(db)
	ledger := storage.NewRedisLedger(rdb, cfg.LedgerRetention)
	publisher := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.AuditTopic, logger)
	gateway := payment.NewProcessorGateway(payment.Config{
		CardEndpoint:   cfg.CardEndpoint,
		CryptoEndpoint: cfg.CryptoEndpoint,
	}, logger)

	// Core
	exchangeService := service.NewExchangeService(
		orderStore, inventoryStore, catalogStore, ledger, gateway, publisher,
		logger, service.ExchangeConfig{
			LocationID:     cfg.LocationID,
			TaxRateBP:      cfg.TaxRateBP,
			ReservationTTL: cfg.ReservationTTL,
		})

	// Expiration sweep
	sweeper := service.NewReservationSweeper(inventoryStore, publisher, logger, cfg.SweepInterval)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()
	logger.Info("reservation sweeper started", zap.Duration("interval", cfg.SweepInterval))

	// HTTP
	httpHandler := handler.NewHTTPHandler(exchangeService, logger)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	cancel()
	<-sweepDone
	logger.Info("sweeper stopped")

	publisher.Close()
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
