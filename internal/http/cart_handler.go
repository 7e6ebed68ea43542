package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CartService interface {
	GetCartItems(ctx context.Context, userID string) ([]domain.CartItemDetail, error)
	ComputeTotal(ctx context.Context, userID string) (domain.CartTotal, error)
	AddItem(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult
	UpdateQuantity(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult
	RemoveItem(ctx context.Context, userID string, productID int64) domain.CartResult
	ClearCart(ctx context.Context, userID string) (bool, error)
}

type CartHandler struct {
	carts CartService
}

func NewCartHandler(carts CartService) *CartHandler {
	return &CartHandler{carts: carts}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int32 `json:"quantity"`
}

type CartResponseDTO struct {
	UserID string                  `json:"user_id"`
	Items  []domain.CartItemDetail `json:"items"`
	Total  domain.CartTotal        `json:"total"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserIDFromContext(ctx)

	items, err := h.carts.GetCartItems(ctx, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	total, err := h.carts.ComputeTotal(ctx, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if items == nil {
		items = []domain.CartItemDetail{}
	}
	respondJSON(w, http.StatusOK, CartResponseDTO{UserID: userID, Items: items, Total: total})
}

// GET /api/v1/cart/total
func (h *CartHandler) GetTotal(w http.ResponseWriter, r *http.Request) {
	total, err := h.carts.ComputeTotal(r.Context(), getUserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, total)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res := h.carts.AddItem(r.Context(), getUserIDFromContext(r.Context()), req.ProductID, req.Quantity)
	respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusCreated), res)
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(r, "product_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res := h.carts.UpdateQuantity(r.Context(), getUserIDFromContext(r.Context()), productID, req.Quantity)
	respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusOK), res)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(r, "product_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	res := h.carts.RemoveItem(r.Context(), getUserIDFromContext(r.Context()), productID)
	respondJSON(w, statusOnSuccess(res.Success, res.Code, http.StatusOK), res)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.carts.ClearCart(r.Context(), getUserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !cleared {
		respondDomainError(w, domain.ErrCartNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
