package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/idempotency"
	"github.com/go-chi/chi/v5"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID string, productID int64, qty int32) domain.OrderResult
	CheckoutCart(ctx context.Context, userID string) domain.CheckoutResult
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

// IdempotencyGuard runs place at most once per key; see internal/idempotency.
type IdempotencyGuard interface {
	Do(ctx context.Context, userID, key string, place func(ctx context.Context) domain.OrderResult) (domain.OrderResult, bool, error)
}

type OrdersHandler struct {
	orders OrderService
	guard  IdempotencyGuard
	log    *slog.Logger
}

// NewOrdersHandler builds the handler. guard may be nil, in which case the
// Idempotency-Key header is ignored.
func NewOrdersHandler(orders OrderService, guard IdempotencyGuard, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, guard: guard, log: log}
}

type CreateOrderRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserIDFromContext(ctx)

	var req CreateOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	place := func(ctx context.Context) domain.OrderResult {
		return h.orders.CreateOrder(ctx, userID, req.ProductID, req.Quantity)
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if h.guard == nil || key == "" {
		res := place(ctx)
		respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusCreated), res)
		return
	}

	res, replayed, err := h.guard.Do(ctx, userID, key, place)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		respondError(w, http.StatusConflict, "idempotency_in_progress", err.Error())
		return
	case err != nil && res.Code == "":
		// the guard failed before placing anything
		h.log.Error("idempotency guard failed", "user_id", userID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "idempotency store unavailable")
		return
	case err != nil:
		// placed, but the outcome could not be recorded; a retry may duplicate
		h.log.Error("failed to record idempotency outcome", "user_id", userID, "order_id", res.OrderID, "error", err)
	}

	if replayed {
		w.Header().Set(ReplayedHeader, "true")
		respondJSON(w, http.StatusOK, res)
		return
	}
	respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusCreated), res)
}

// POST /api/v1/cart/checkout
func (h *OrdersHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	res := h.orders.CheckoutCart(r.Context(), getUserIDFromContext(r.Context()))
	respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusCreated), res)
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), getUserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), getUserIDFromContext(r.Context()), orderID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

var _ IdempotencyGuard = (*idempotency.RedisStore)(nil)
