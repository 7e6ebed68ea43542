package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"golang.org/x/sync/singleflight"
)

// Service is the read view over products. Single-product reads always go to
// the store, so the stock they report is the ledger's committed value.
type Service struct {
	store store.CatalogStore
	sfg   singleflight.Group // collapses concurrent listings
	log   *slog.Logger
}

func NewService(s store.CatalogStore, log *slog.Logger) *Service {
	return &Service{store: s, log: log}
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	v, err, _ := s.sfg.Do("products", func() (interface{}, error) {
		// the result is shared, so one caller's cancellation must not fail the rest
		return s.store.ListProducts(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	// every caller gets its own slice
	return slices.Clone(v.([]domain.Product)), nil
}

// Seed validates and stores products. It stops at the first invalid record.
// Products that already exist keep their stock, so seeding on every boot is
// safe against a durable store.
func (s *Service) Seed(ctx context.Context, products []domain.Product) error {
	for _, p := range products {
		if err := Validate(p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}

	for _, p := range products {
		if err := s.store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}

	s.log.Info("catalog seeded", "products", len(products))
	return nil
}

func Validate(p domain.Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("product id must be positive, got %d", p.ID)
	}
	if p.Price.IsNegative() {
		return domain.ErrNegativePrice
	}
	if p.Stock < 0 {
		return domain.ErrNegativeStock
	}
	return nil
}
