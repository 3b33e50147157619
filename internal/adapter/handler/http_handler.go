package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/core/service"
)

// Exchanger is the slice of the exchange service the handler needs.
type Exchanger interface {
	ExecuteExchange(ctx context.Context, req service.ExchangeRequest) (*domain.ExchangeResult, error)
}

type HTTPHandler struct {
	exchanges Exchanger
	logger    *zap.Logger
}

func NewHTTPHandler(exchanges Exchanger, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{exchanges: exchanges, logger: logger}
}

// Register wires the routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders/{id}/exchange", h.Exchange)
	mux.HandleFunc("/health", h.HealthCheck)
}

type exchangeHTTPRequest struct {
	ReturnItems []struct {
		OrderItemID string `json:"order_item_id"`
		Qty         int    `json:"qty"`
	} `json:"return_items"`
	NewItems []struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	} `json:"new_items"`
	DiscountPercentBP int64 `json:"discount_percent_bp"`
	Payment           struct {
		Method string `json:"method"`
	} `json:"payment"`
	IdempotencyKey string `json:"idempotency_key"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Exchange handles POST /orders/{original_order_id}/exchange. The
// tenant and role are resolved by the auth layer in front of this core;
// only the tenant id header is consumed here.
func (h *HTTPHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	tenantID := r.Header.Get("X-Tenant-ID")
	if orderID == "" || tenantID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "InvalidRequest", Error: "missing order id or tenant"})
		return
	}

	var body exchangeHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "InvalidRequest", Error: "invalid request body"})
		return
	}

	method, err := domain.ParsePaymentMethod(body.Payment.Method)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "InvalidRequest", Error: "unsupported payment method"})
		return
	}

	req := service.ExchangeRequest{
		TenantID:        tenantID,
		OriginalOrderID: orderID,
		PaymentMethod:   method,
		IdempotencyKey:  body.IdempotencyKey,
		DiscountBP:      body.DiscountPercentBP,
	}
	for _, line := range body.ReturnItems {
		req.ReturnLines = append(req.ReturnLines, service.ReturnLine{
			OrderItemID: line.OrderItemID,
			Quantity:    line.Qty,
		})
	}
	for _, line := range body.NewItems {
		req.NewLines = append(req.NewLines, service.NewLine{
			SKU:      line.SKU,
			Quantity: line.Qty,
		})
	}

	result, err := h.exchanges.ExecuteExchange(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var refundableErr *domain.RefundableQuantityExceededError
	var inventoryErr *domain.InventoryUnavailableError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidAmountFormat):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "InvalidRequest", Error: err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "OrderNotFound", Error: err.Error()})
	case errors.As(err, &refundableErr):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "RefundableQuantityExceeded", Error: err.Error()})
	case errors.Is(err, domain.ErrOrderNotRefundable):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "OrderNotRefundable", Error: err.Error()})
	case errors.Is(err, domain.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "RequestInFlight", Error: err.Error()})
	case errors.As(err, &inventoryErr):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "InventoryUnavailable", Error: err.Error()})
	case errors.Is(err, domain.ErrAmountOverflow):
		// An implausibly large order; log it as a data-quality signal.
		h.logger.Error("amount overflow in exchange", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Code: "AmountOverflow", Error: err.Error()})
	default:
		h.logger.Error("exchange failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Error: "internal error"})
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
