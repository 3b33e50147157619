package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries the deployment knobs of the exchange engine. Values
// come from the environment; everything except the MySQL DSN has a
// local-development default.
type Config struct {
	HTTPAddr        string
	MySQLDSN        string
	RedisAddr       string
	KafkaBroker     string
	AuditTopic      string
	CardEndpoint    string
	CryptoEndpoint  string
	LocationID      string
	TaxRateBP       int64
	ReservationTTL  time.Duration
	SweepInterval   time.Duration
	LedgerRetention time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		MySQLDSN:        os.Getenv("MYSQL_DSN"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		KafkaBroker:     envOr("KAFKA_BROKER", "localhost:9092"),
		AuditTopic:      envOr("AUDIT_TOPIC", "exchange-audit"),
		CardEndpoint:    envOr("CARD_PROCESSOR_URL", "http://localhost:9095/card"),
		CryptoEndpoint:  envOr("CRYPTO_PROCESSOR_URL", "http://localhost:9095/crypto"),
		LocationID:      envOr("LOCATION_ID", "main"),
		TaxRateBP:       825,
		ReservationTTL:  30 * time.Minute,
		SweepInterval:   time.Minute,
		LedgerRetention: 48 * time.Hour,
	}

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN environment variable is required")
	}

	if v := os.Getenv("TAX_RATE_BP"); v != "" {
		bp, err := strconv.ParseInt(v, 10, 64)
		if err != nil || bp < 0 || bp > 10000 {
			return nil, fmt.Errorf("invalid TAX_RATE_BP %q", v)
		}
		cfg.TaxRateBP = bp
	}
	if v := os.Getenv("RESERVATION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid RESERVATION_TTL %q", v)
		}
		cfg.ReservationTTL = d
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL %q", v)
		}
		cfg.SweepInterval = d
	}
	if v := os.Getenv("LEDGER_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid LEDGER_RETENTION %q", v)
		}
		cfg.LedgerRetention = d
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
