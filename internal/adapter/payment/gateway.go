// Package payment adapts the external settlement processors. Card and
// crypto settle through their processor HTTP endpoints; cash settles
// locally as a drawer movement and never fails over the network.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/port"
)

type Config struct {
	CardEndpoint   string
	CryptoEndpoint string
	Timeout        time.Duration
}

type ProcessorGateway struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func NewProcessorGateway(cfg Config, logger *zap.Logger) *ProcessorGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ProcessorGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type settlementRequest struct {
	TenantID    string `json:"tenant_id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Operation   string `json:"operation"`
}

func (g *ProcessorGateway) Capture(ctx context.Context, tenantID string, method domain.PaymentMethod, amount domain.Amount, orderID string) error {
	return g.settle(ctx, tenantID, method, amount, orderID, "capture")
}

func (g *ProcessorGateway) Disburse(ctx context.Context, tenantID string, method domain.PaymentMethod, amount domain.Amount, orderID string) error {
	return g.settle(ctx, tenantID, method, amount, orderID, "disburse")
}

func (g *ProcessorGateway) settle(ctx context.Context, tenantID string, method domain.PaymentMethod, amount domain.Amount, orderID, operation string) error {
	var endpoint string
	switch method {
	case domain.PaymentMethodCard:
		endpoint = g.cfg.CardEndpoint
	case domain.PaymentMethodCrypto:
		endpoint = g.cfg.CryptoEndpoint
	case domain.PaymentMethodCash:
		// Cash is a drawer movement recorded by the POS; nothing to call.
		g.logger.Info("cash settlement recorded",
			zap.String("order_id", orderID),
			zap.String("operation", operation),
			zap.Int64("amount_cents", amount.Cents()))
		return nil
	default:
		return fmt.Errorf("unsupported payment method %q: %w", method, domain.ErrInvalidRequest)
	}

	body, err := json.Marshal(settlementRequest{
		TenantID:    tenantID,
		OrderID:     orderID,
		AmountCents: amount.Cents(),
		Operation:   operation,
	})
	if err != nil {
		return fmt.Errorf("encode settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Transport failure of any kind means the processor could not be
		// reached; the settlement step decides whether to fall back.
		return fmt.Errorf("%s processor: %w", method, port.ErrPaymentMethodUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s processor returned %d for order %s", method, resp.StatusCode, orderID)
	}
	return nil
}
