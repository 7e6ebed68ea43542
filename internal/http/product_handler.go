package http

import (
	"context"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type ProductHandler struct {
	catalog ProductReader
}

func NewProductHandler(catalog ProductReader) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

type ProductsResponse struct {
	Products []domain.Product `json:"products"`
}

// GET /api/v1/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}

// GET /api/v1/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProductID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must be a positive integer")
		return
	}

	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
