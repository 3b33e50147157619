package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/port"
)

// NewLine is a replacement-item request.
type NewLine struct {
	SKU      string
	Quantity int
}

// ExchangeRequest carries one exchange operation: return some lines of
// a completed order, purchase replacements, settle the difference.
type ExchangeRequest struct {
	TenantID        string
	OriginalOrderID string
	ReturnLines     []ReturnLine
	NewLines        []NewLine
	PaymentMethod   domain.PaymentMethod
	IdempotencyKey  string
	DiscountBP      int64
}

// ExchangeConfig holds the per-deployment knobs of the orchestrator.
type ExchangeConfig struct {
	LocationID     string
	TaxRateBP      int64
	ReservationTTL time.Duration
}

// ExchangeService is the saga coordinator. Each step is locally atomic;
// the saga as a whole is compensatable, not transactional, because it
// spans the order store and the inventory store as separate resources.
type ExchangeService struct {
	orders    port.OrderRepository
	inventory port.InventoryRepository
	catalog   port.CatalogGateway
	ledger    port.IdempotencyLedger
	payments  port.PaymentGateway
	events    port.EventPublisher
	calc      *RefundCalculator
	logger    *zap.Logger
	cfg       ExchangeConfig
}

func NewExchangeService(
	orders port.OrderRepository,
	inventory port.InventoryRepository,
	catalog port.CatalogGateway,
	ledger port.IdempotencyLedger,
	payments port.PaymentGateway,
	events port.EventPublisher,
	logger *zap.Logger,
	cfg ExchangeConfig,
) *ExchangeService {
	return &ExchangeService{
		orders:    orders,
		inventory: inventory,
		catalog:   catalog,
		ledger:    ledger,
		payments:  payments,
		events:    events,
		calc:      NewRefundCalculator(),
		logger:    logger,
		cfg:       cfg,
	}
}

// ExecuteExchange runs the exchange saga to a terminal outcome. A key
// bound to a prior terminal result replays that result without side
// effects; a key whose bound result carries a failed settlement
// re-attempts settlement only.
func (s *ExchangeService) ExecuteExchange(ctx context.Context, req ExchangeRequest) (*domain.ExchangeResult, error) {
	if req.IdempotencyKey == "" || req.TenantID == "" || req.OriginalOrderID == "" {
		return nil, fmt.Errorf("missing tenant, order id or idempotency key: %w", domain.ErrInvalidRequest)
	}
	if len(req.ReturnLines) == 0 && len(req.NewLines) == 0 {
		return nil, fmt.Errorf("return_items and new_items both empty: %w", domain.ErrInvalidRequest)
	}
	if req.DiscountBP < 0 || req.DiscountBP > 10000 {
		return nil, fmt.Errorf("discount_percent_bp out of range: %w", domain.ErrInvalidRequest)
	}

	outcome, prior, err := s.ledger.Begin(ctx, req.TenantID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency begin: %w", err)
	}
	switch outcome {
	case port.BeginInFlight:
		return nil, domain.ErrRequestInFlight
	case port.BeginCompleted:
		if prior.Payment.Status == domain.SettlementFailed {
			return s.retrySettlement(ctx, req.TenantID, req.IdempotencyKey, prior)
		}
		s.logger.Info("idempotent replay",
			zap.String("tenant_id", req.TenantID),
			zap.String("idempotency_key", req.IdempotencyKey))
		return prior, nil
	}

	result, err := s.run(ctx, req)
	if err != nil {
		// A failed attempt does not poison the key; the in-flight marker
		// is dropped so the client may retry after adjusting the request.
		if abandonErr := s.ledger.Abandon(ctx, req.TenantID, req.IdempotencyKey); abandonErr != nil {
			s.logger.Error("failed to abandon idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(abandonErr))
		}
		return nil, err
	}

	if err := s.ledger.Complete(ctx, req.TenantID, req.IdempotencyKey, result); err != nil {
		s.logger.Error("failed to bind idempotency result",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
	}
	s.emitCompletionEvents(ctx, req.TenantID, result)

	return result, nil
}

// run executes saga steps 2 through 7. The caller owns the idempotency
// key handling around it.
func (s *ExchangeService) run(ctx context.Context, req ExchangeRequest) (*domain.ExchangeResult, error) {
	original, err := s.orders.GetOrder(ctx, req.TenantID, req.OriginalOrderID)
	if err != nil {
		return nil, err
	}
	if !original.Refundable() {
		return nil, fmt.Errorf("order %s in status %s: %w", original.ID, original.Status, domain.ErrOrderNotRefundable)
	}

	refund := &domain.Refund{OrderID: original.ID, TenantID: req.TenantID}
	var restock []domain.RestockInstruction
	if len(req.ReturnLines) > 0 {
		refund, restock, err = s.calc.Calculate(original, req.ReturnLines)
		if err != nil {
			return nil, err
		}
		refund.ID = uuid.NewString()
		refund.CreatedAt = time.Now().UTC()
	}

	// The replacement order is fully built before any side effect, so a
	// missing catalog price or an overflowing total fails the saga while
	// there is still nothing to compensate.
	newOrder, err := s.buildExchangeOrder(ctx, req, original)
	if err != nil {
		return nil, err
	}

	// Returned items go back on hand before replacements are reserved,
	// so a product that is both returned and re-purchased can satisfy
	// its own reservation.
	for _, ins := range restock {
		if err := s.inventory.Restock(ctx, req.TenantID, ins.SKU, s.cfg.LocationID, ins.Quantity); err != nil {
			return nil, fmt.Errorf("restock %s: %w", ins.SKU, err)
		}
	}

	reservations, err := s.reserveNewLines(ctx, req)
	if err != nil {
		s.unwindRestock(ctx, req.TenantID, restock)
		return nil, err
	}

	if len(refund.Lines) > 0 {
		if err := s.orders.ApplyRefund(ctx, refund); err != nil {
			s.releaseAll(ctx, reservations)
			s.unwindRestock(ctx, req.TenantID, restock)
			return nil, err
		}
	}

	if newOrder != nil {
		if err := s.orders.CreateExchangeOrder(ctx, newOrder); err != nil {
			s.releaseAll(ctx, reservations)
			s.compensateRefund(ctx, req.TenantID, refund, restock)
			return nil, fmt.Errorf("create exchange order: %w", err)
		}
	}

	for _, res := range reservations {
		if err := s.inventory.Commit(ctx, res.ID); err != nil {
			// The reservation stays ACTIVE until the sweep expires it;
			// stock is never oversold, only held longer than needed.
			s.logger.Error("CRITICAL reservation commit failed",
				zap.String("reservation_id", res.ID),
				zap.String("sku", res.SKU),
				zap.Error(err))
		}
	}

	var newTotal domain.Amount
	var exchangeOrderID string
	var totals domain.TotalsCents
	if newOrder != nil {
		newTotal = newOrder.Total
		exchangeOrderID = newOrder.ID
		totals = domain.TotalsCents{
			SubtotalCents: newOrder.Subtotal.Cents(),
			DiscountCents: newOrder.Discount.Cents(),
			TaxCents:      newOrder.Tax.Cents(),
			TotalCents:    newOrder.Total.Cents(),
		}
	}

	netDelta, err := newTotal.Sub(refund.Amount)
	if err != nil {
		return nil, err
	}

	settleOrderRef := exchangeOrderID
	if settleOrderRef == "" {
		settleOrderRef = original.ID
	}
	payment := s.settle(ctx, req.TenantID, req.PaymentMethod, original.PaymentMethod, netDelta, settleOrderRef)

	direction := domain.NetDirectionRefund
	if netDelta.Cents() > 0 {
		direction = domain.NetDirectionCollect
	}

	return &domain.ExchangeResult{
		OriginalOrderID: original.ID,
		ExchangeOrderID: exchangeOrderID,
		Refund: domain.RefundSummary{
			RefundID:      refund.ID,
			RefundedCents: refund.Amount.Cents(),
		},
		NewOrder: domain.NewOrderSummary{
			OrderID: exchangeOrderID,
			Totals:  totals,
		},
		NetDeltaCents: netDelta.Cents(),
		NetDirection:  direction,
		Payment:       payment,
	}, nil
}

// reserveNewLines takes a provisional hold for every replacement line.
// On any failure every reservation created so far is released, all of
// them attempted even if one release fails.
func (s *ExchangeService) reserveNewLines(ctx context.Context, req ExchangeRequest) ([]*domain.Reservation, error) {
	reservations := make([]*domain.Reservation, 0, len(req.NewLines))
	for _, line := range req.NewLines {
		if line.Quantity <= 0 || line.SKU == "" {
			s.releaseAll(ctx, reservations)
			return nil, fmt.Errorf("invalid new item line: %w", domain.ErrInvalidRequest)
		}
		res, err := s.inventory.Reserve(ctx, req.TenantID, line.SKU, s.cfg.LocationID, line.Quantity, s.cfg.ReservationTTL, req.OriginalOrderID)
		if err != nil {
			s.releaseAll(ctx, reservations)
			return nil, err
		}
		reservations = append(reservations, res)
	}
	return reservations, nil
}

// compensateRefund unwinds a persisted refund after a later step fails:
// the refund is reverted first, and only then is the restock reversed.
// If the revert itself fails the restock stays in place, so a standing
// refund is always matched by the physically returned stock.
func (s *ExchangeService) compensateRefund(ctx context.Context, tenantID string, refund *domain.Refund, restock []domain.RestockInstruction) {
	if len(refund.Lines) > 0 {
		if err := s.orders.RevertRefund(ctx, refund); err != nil {
			s.logger.Error("CRITICAL refund revert failed",
				zap.String("refund_id", refund.ID),
				zap.String("order_id", refund.OrderID),
				zap.Error(err))
			return
		}
	}
	s.unwindRestock(ctx, tenantID, restock)
}

// unwindRestock reverses early restocks when a later saga step fails
// and the refund will not persist. Best effort: a failure here means
// stock is overstated until a manual correction, never oversold.
func (s *ExchangeService) unwindRestock(ctx context.Context, tenantID string, restock []domain.RestockInstruction) {
	for _, ins := range restock {
		if err := s.inventory.Restock(ctx, tenantID, ins.SKU, s.cfg.LocationID, -ins.Quantity); err != nil {
			s.logger.Error("CRITICAL restock rollback failed",
				zap.String("sku", ins.SKU),
				zap.Int("quantity", ins.Quantity),
				zap.Error(err))
		}
	}
}

func (s *ExchangeService) releaseAll(ctx context.Context, reservations []*domain.Reservation) {
	for _, res := range reservations {
		if err := s.inventory.Release(ctx, res.ID); err != nil {
			s.logger.Error("reservation release failed during rollback",
				zap.String("reservation_id", res.ID),
				zap.String("sku", res.SKU),
				zap.Error(err))
		}
	}
}

// buildExchangeOrder resolves catalog prices and computes totals for
// the replacement order with the back-link to the original, without
// persisting anything. Returns nil when there are no new lines.
func (s *ExchangeService) buildExchangeOrder(ctx context.Context, req ExchangeRequest, original *domain.Order) (*domain.Order, error) {
	if len(req.NewLines) == 0 {
		return nil, nil
	}

	orderID := uuid.NewString()
	items := make([]domain.OrderItem, 0, len(req.NewLines))
	for _, line := range req.NewLines {
		price, err := s.catalog.UnitPrice(ctx, req.TenantID, line.SKU)
		if err != nil {
			return nil, err
		}
		lineTotal, err := price.MulInt(int64(line.Quantity))
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		})
	}

	subtotal, discount, tax, total, err := domain.ComputeOrderTotals(items, req.DiscountBP, s.cfg.TaxRateBP)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                orderID,
		TenantID:          req.TenantID,
		Status:            domain.OrderStatusCompleted,
		PaymentMethod:     req.PaymentMethod,
		Items:             items,
		Subtotal:          subtotal,
		Discount:          discount,
		Tax:               tax,
		Total:             total,
		ExchangeOfOrderID: original.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return order, nil
}

// settle runs the monetary step. A positive delta is captured from the
// customer with the requested method; a non-positive delta is disbursed
// back, preferring the original order's payment method and falling back
// to cash when that method is unreachable. Settlement failure is not a
// rollback trigger: the persisted refund and order stand, and the
// result carries the failed sub-status so the caller can retry
// settlement alone with the same key.
func (s *ExchangeService) settle(ctx context.Context, tenantID string, requested, original domain.PaymentMethod, netDelta domain.Amount, orderRef string) domain.SettlementSummary {
	switch {
	case netDelta.Cents() > 0:
		summary := domain.SettlementSummary{
			Method:      string(requested),
			Status:      domain.SettlementCaptured,
			AmountCents: netDelta.Cents(),
		}
		if err := s.payments.Capture(ctx, tenantID, requested, netDelta, orderRef); err != nil {
			s.logger.Warn("settlement capture failed",
				zap.String("order_id", orderRef),
				zap.Int64("amount_cents", netDelta.Cents()),
				zap.Error(err))
			summary.Status = domain.SettlementFailed
		}
		return summary

	case netDelta.Cents() < 0:
		owed := netDelta.Abs()
		method := original
		if method == "" {
			method = requested
		}
		err := s.payments.Disburse(ctx, tenantID, method, owed, orderRef)
		if errors.Is(err, port.ErrPaymentMethodUnreachable) && method != domain.PaymentMethodCash {
			s.logger.Warn("disbursement method unreachable, falling back to cash",
				zap.String("method", string(method)),
				zap.String("order_id", orderRef))
			method = domain.PaymentMethodCash
			err = s.payments.Disburse(ctx, tenantID, method, owed, orderRef)
		}
		summary := domain.SettlementSummary{
			Method:      string(method),
			Status:      domain.SettlementCaptured,
			AmountCents: owed.Cents(),
		}
		if err != nil {
			s.logger.Warn("settlement disbursement failed",
				zap.String("order_id", orderRef),
				zap.Int64("amount_cents", owed.Cents()),
				zap.Error(err))
			summary.Status = domain.SettlementFailed
		}
		return summary

	default:
		return domain.SettlementSummary{
			Method:      string(requested),
			Status:      domain.SettlementCaptured,
			AmountCents: 0,
		}
	}
}

// retrySettlement re-attempts only the monetary step of a saga whose
// refund and replacement order already persisted. On success the bound
// result is updated in place.
func (s *ExchangeService) retrySettlement(ctx context.Context, tenantID, key string, prior *domain.ExchangeResult) (*domain.ExchangeResult, error) {
	netDelta, err := domain.AmountFromCents(prior.NetDeltaCents)
	if err != nil {
		return nil, err
	}
	orderRef := prior.ExchangeOrderID
	if orderRef == "" {
		orderRef = prior.OriginalOrderID
	}
	method := domain.PaymentMethod(prior.Payment.Method)

	payment := s.settle(ctx, tenantID, method, method, netDelta, orderRef)
	if payment.Status != domain.SettlementCaptured {
		return prior, nil
	}

	prior.Payment = payment
	if err := s.ledger.Complete(ctx, tenantID, key, prior); err != nil {
		s.logger.Error("failed to re-bind settlement result", zap.Error(err))
	}
	return prior, nil
}

func (s *ExchangeService) emitCompletionEvents(ctx context.Context, tenantID string, result *domain.ExchangeResult) {
	now := time.Now().UTC()
	events := []domain.Event{}

	if result.Refund.RefundID != "" {
		events = append(events, domain.Event{
			Type:       domain.EventRefundIssued,
			TenantID:   tenantID,
			Key:        result.OriginalOrderID,
			OccurredAt: now,
			Payload: domain.RefundIssuedPayload{
				RefundID:      result.Refund.RefundID,
				OrderID:       result.OriginalOrderID,
				RefundedCents: result.Refund.RefundedCents,
			},
		})
	}
	if result.ExchangeOrderID != "" {
		events = append(events, domain.Event{
			Type:       domain.EventOrderCreated,
			TenantID:   tenantID,
			Key:        result.ExchangeOrderID,
			OccurredAt: now,
			Payload: domain.OrderCreatedPayload{
				OrderID:           result.ExchangeOrderID,
				ExchangeOfOrderID: result.OriginalOrderID,
				TotalCents:        result.NewOrder.Totals.TotalCents,
			},
		})
	}
	events = append(events, domain.Event{
		Type:       domain.EventExchangeCompleted,
		TenantID:   tenantID,
		Key:        result.OriginalOrderID,
		OccurredAt: now,
		Payload: domain.ExchangeCompletedPayload{
			OriginalOrderID: result.OriginalOrderID,
			ExchangeOrderID: result.ExchangeOrderID,
			NetDeltaCents:   result.NetDeltaCents,
		},
	})

	for _, ev := range events {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Error("audit event publish failed",
				zap.String("event_type", ev.Type),
				zap.Error(err))
		}
	}
}
