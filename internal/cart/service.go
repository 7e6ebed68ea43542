package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// priceWorkers bounds concurrent catalog lookups while pricing a cart.
const priceWorkers = 8

type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

type Service struct {
	carts   store.CartStore
	catalog ProductLookup
	pricing *pricing.Engine
	metrics *metrics.Metrics
	log     *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(carts store.CartStore, catalog ProductLookup, engine *pricing.Engine, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		carts:   carts,
		catalog: catalog,
		pricing: engine,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return s.carts.GetOrCreateCart(ctx, userID)
}

// GetCart returns the user's cart, or an empty cart view if none exists yet.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	c, err := s.carts.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return &domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
	}
	if err != nil {
		s.log.Error("get cart failed", "user_id", userID, "error", err)
		return nil, err
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult {
	res := s.addItem(ctx, userID, productID, qty)
	s.observe("add_item", res.Code)
	return res
}

func (s *Service) addItem(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult {
	if err := validateUser(userID); err != nil {
		return domain.FailedCart(err)
	}
	if qty <= 0 {
		return domain.FailedCart(domain.ErrInvalidQuantity)
	}

	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return s.failed(err, "add item: product lookup", userID, productID)
	}

	c, err := s.carts.AddItem(ctx, userID, productID, qty)
	if err != nil {
		return s.failed(err, "add item", userID, productID)
	}

	return s.succeeded(ctx, c, domain.MsgItemAdded)
}

// RemoveItem deletes the whole line. A missing cart or line is reported as
// not found and changes nothing.
func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) domain.CartResult {
	res := s.removeItem(ctx, userID, productID)
	s.observe("remove_item", res.Code)
	return res
}

func (s *Service) removeItem(ctx context.Context, userID string, productID int64) domain.CartResult {
	if err := validateUser(userID); err != nil {
		return domain.FailedCart(err)
	}

	c, err := s.carts.RemoveItem(ctx, userID, productID)
	if err != nil {
		return s.failed(err, "remove item", userID, productID)
	}
	return s.succeeded(ctx, c, domain.MsgItemRemoved)
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult {
	if qty == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	res := s.updateQuantity(ctx, userID, productID, qty)
	s.observe("update_quantity", res.Code)
	return res
}

func (s *Service) updateQuantity(ctx context.Context, userID string, productID int64, qty int32) domain.CartResult {
	if err := validateUser(userID); err != nil {
		return domain.FailedCart(err)
	}
	if qty < 0 {
		return domain.FailedCart(domain.ErrInvalidQuantity)
	}

	c, err := s.carts.SetItemQuantity(ctx, userID, productID, qty)
	if err != nil {
		return s.failed(err, "update quantity", userID, productID)
	}
	return s.succeeded(ctx, c, domain.MsgItemUpdated)
}

// ClearCart empties the cart and keeps the record. It reports false when the
// user has no cart.
func (s *Service) ClearCart(ctx context.Context, userID string) (bool, error) {
	if err := validateUser(userID); err != nil {
		return false, err
	}

	err := s.carts.ClearCart(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		s.observe("clear", domain.CodeNotFound)
		return false, nil
	case err != nil:
		s.observe("clear", domain.CodeOf(err))
		s.log.Error("clear cart failed", "user_id", userID, "error", err)
		return false, err
	}

	s.observe("clear", domain.CodeOK)
	return true, nil
}

// ComputeTotal prices the cart against current catalog prices. A missing or
// empty cart totals {0, 0, 0}.
func (s *Service) ComputeTotal(ctx context.Context, userID string) (domain.CartTotal, error) {
	if err := validateUser(userID); err != nil {
		return domain.CartTotal{}, err
	}

	c, err := s.carts.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return s.pricing.ComputeCartTotal(nil), nil
	}
	if err != nil {
		return domain.CartTotal{}, err
	}

	return s.total(ctx, c)
}

// GetCartItems joins each line with its catalog record.
func (s *Service) GetCartItems(ctx context.Context, userID string) ([]domain.CartItemDetail, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	products, err := s.resolve(ctx, c.Items)
	if err != nil {
		return nil, err
	}

	details := make([]domain.CartItemDetail, len(c.Items))
	for i, it := range c.Items {
		p := products[i]
		details[i] = domain.CartItemDetail{
			ProductID:   it.ProductID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			Subtotal:    pricing.LineSubtotal(p.Price, it.Quantity),
		}
	}
	return details, nil
}

func (s *Service) total(ctx context.Context, c *domain.Cart) (domain.CartTotal, error) {
	if c.IsEmpty() {
		return s.pricing.ComputeCartTotal(nil), nil
	}

	products, err := s.resolve(ctx, c.Items)
	if err != nil {
		return domain.CartTotal{}, err
	}

	lines := make([]pricing.Line, len(c.Items))
	for i, it := range c.Items {
		lines[i] = pricing.Line{UnitPrice: products[i].Price, Quantity: it.Quantity}
	}
	return s.pricing.ComputeCartTotal(lines), nil
}

// resolve looks up the product for every item; result[i] matches items[i].
func (s *Service) resolve(ctx context.Context, items []domain.CartItem) ([]domain.Product, error) {
	products := make([]domain.Product, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceWorkers)
	for i, it := range items {
		g.Go(func() error {
			p, err := s.catalog.GetProduct(gctx, it.ProductID)
			if err != nil {
				return fmt.Errorf("price product %d: %w", it.ProductID, err)
			}
			products[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Service) succeeded(ctx context.Context, c *domain.Cart, msg string) domain.CartResult {
	total, err := s.total(ctx, c)
	if err != nil {
		// the mutation is committed; only the echoed total is unavailable
		s.log.Warn("cart total unavailable", "user_id", c.UserID, "error", err)
		total = domain.CartTotal{TotalWithTax: decimal.Zero}
	}

	return domain.CartResult{
		Success:   true,
		CartID:    c.ID,
		CartTotal: total.TotalWithTax,
		Message:   msg,
		Code:      domain.CodeOK,
	}
}

func (s *Service) failed(err error, op, userID string, productID int64) domain.CartResult {
	res := domain.FailedCart(err)
	if res.Code == domain.CodeInternal {
		s.log.Error(op+" failed", "user_id", userID, "product_id", productID, "error", err)
	}
	return res
}

func (s *Service) observe(op string, code domain.ResultCode) {
	if s.metrics != nil {
		s.metrics.CartOps.WithLabelValues(op, code.String()).Inc()
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrEmptyUserID
	}
	return nil
}
