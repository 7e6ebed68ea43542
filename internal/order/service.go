package order

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fjod/go_cart/storefront/internal/order"

type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// Dependencies are the collaborators of the order service. Tx and Orders
// normally point at the same store.Store.
type Dependencies struct {
	Catalog ProductLookup
	Ledger  *inventory.Ledger
	Tx      store.Transactor
	Orders  store.OrderStore
	Carts   store.CartStore
	Pricing *pricing.Engine
	Log     *slog.Logger
}

type Service struct {
	catalog ProductLookup
	ledger  *inventory.Ledger
	tx      store.Transactor
	orders  store.OrderStore
	carts   store.CartStore
	pricing *pricing.Engine
	log     *slog.Logger

	retry   RetryPolicy
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(d Dependencies, opts ...Option) *Service {
	s := &Service{
		catalog: d.Catalog,
		ledger:  d.Ledger,
		tx:      d.Tx,
		orders:  d.Orders,
		carts:   d.Carts,
		pricing: d.Pricing,
		log:     d.Log,
		retry:   DefaultRetryPolicy(),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder places a single-product order. Expected failures (validation,
// unknown product, insufficient stock) come back as result values; the stock
// decrement and the order record commit together or not at all.
func (s *Service) CreateOrder(ctx context.Context, userID string, productID int64, qty int32) domain.OrderResult {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", int(qty)),
	))
	defer span.End()

	res := s.createOrder(ctx, userID, productID, qty)

	span.SetAttributes(attribute.String("result", res.Code.String()))
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	if s.metrics != nil {
		s.metrics.Orders.WithLabelValues(res.Code.String()).Inc()
		s.metrics.OrderLatency.Observe(float64(time.Since(start).Milliseconds()))
	}
	return res
}

func (s *Service) createOrder(ctx context.Context, userID string, productID int64, qty int32) domain.OrderResult {
	if err := validate(userID, qty); err != nil {
		return domain.FailedOrder(err)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return s.failed(err, "create order: product lookup", userID, productID)
	}

	o := s.newOrder(userID, product, qty)
	err = s.commit(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.placeIn(ctx, tx, o)
	})
	if err != nil {
		return s.failed(err, "create order", userID, productID)
	}

	s.log.Info("order created", "order_id", o.ID, "user_id", userID, "product_id", productID, "quantity", qty)
	return domain.OrderResult{
		Success: true,
		OrderID: o.ID,
		Message: domain.MsgOrderCreated,
		Code:    domain.CodeOK,
	}
}

// CheckoutCart turns every cart line into an order inside one unit. Lines are
// decremented in ascending product id order so that concurrent checkouts
// always take product locks in the same order.
//
// The purchased quantities are first taken out of the cart in one atomic
// store call. Only one checkout of a given cart snapshot can win that step;
// the others fail with domain.ErrCartChanged and place nothing. If the unit
// then fails, the taken quantities are added back.
func (s *Service) CheckoutCart(ctx context.Context, userID string) domain.CheckoutResult {
	ctx, span := s.tracer.Start(ctx, "order.CheckoutCart", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	res := s.checkoutCart(ctx, userID)
	span.SetAttributes(attribute.String("result", res.Code.String()))
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	return res
}

func (s *Service) checkoutCart(ctx context.Context, userID string) domain.CheckoutResult {
	if err := validate(userID, 1); err != nil {
		return domain.FailedCheckout(err)
	}

	c, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		s.logFailure(err, "checkout: load cart", userID, 0)
		return domain.FailedCheckout(err)
	}
	if c.IsEmpty() {
		return domain.FailedCheckout(domain.ErrEmptyCart)
	}

	items := sortedItems(c.Items)
	orders := make([]domain.Order, 0, len(items))
	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		product, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			s.logFailure(err, "checkout: product lookup", userID, it.ProductID)
			return domain.FailedCheckout(err)
		}
		orders = append(orders, s.newOrder(userID, product, it.Quantity))
		lines = append(lines, pricing.Line{UnitPrice: product.Price, Quantity: it.Quantity})
	}

	if _, err := s.carts.TakeItems(ctx, userID, items); err != nil {
		s.logFailure(err, "checkout: take cart items", userID, 0)
		return domain.FailedCheckout(err)
	}

	err = s.commit(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, o := range orders {
			if err := s.placeIn(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "checkout", userID, 0)
		s.returnItems(context.WithoutCancel(ctx), userID, items)
		return domain.FailedCheckout(err)
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	s.log.Info("cart checked out", "user_id", userID, "orders", len(ids))
	return domain.CheckoutResult{
		Success:  true,
		OrderIDs: ids,
		Total:    s.pricing.ComputeCartTotal(lines),
		Message:  domain.MsgCheckedOut,
		Code:     domain.CodeOK,
	}
}

// returnItems adds quantities taken for a checkout that did not commit back
// to the cart. Adding accumulates, so lines changed in the meantime keep
// their new quantities.
func (s *Service) returnItems(ctx context.Context, userID string, items []domain.CartItem) {
	for _, it := range items {
		if _, err := s.carts.AddItem(ctx, userID, it.ProductID, it.Quantity); err != nil {
			s.log.Error("checkout: cart line not restored", "user_id", userID, "product_id", it.ProductID,
				"quantity", it.Quantity, "error", err)
		}
	}
}

// GetOrder returns the order only if it belongs to userID.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if err := validate(userID, 1); err != nil {
		return domain.Order{}, err
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if err := validate(userID, 1); err != nil {
		return nil, err
	}
	return s.orders.ListOrdersByUser(ctx, userID)
}

func (s *Service) newOrder(userID string, p domain.Product, qty int32) domain.Order {
	return domain.Order{
		ID:              s.newID(),
		UserID:          userID,
		ProductID:       p.ID,
		Quantity:        qty,
		UnitPrice:       p.Price,
		TotalPrice:      pricing.LineSubtotal(p.Price, qty),
		DiscountPercent: pricing.ComputeDiscountPercent(p.Price, p.OriginalPrice),
		CreatedAt:       s.now(),
	}
}

// placeIn decrements stock, records the order and queues its event, all in tx.
func (s *Service) placeIn(ctx context.Context, tx store.Tx, o domain.Order) error {
	if _, err := s.ledger.DecrementIn(ctx, tx, o.ProductID, o.Quantity); err != nil {
		return err
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return tx.AppendEvent(ctx, domain.OutboxEvent{
		ID:          s.newID(),
		AggregateID: o.ID,
		EventType:   domain.EventOrderCreated,
		Payload:     payload,
		CreatedAt:   o.CreatedAt,
	})
}

func (s *Service) failed(err error, op, userID string, productID int64) domain.OrderResult {
	s.logFailure(err, op, userID, productID)
	return domain.FailedOrder(err)
}

func (s *Service) logFailure(err error, op, userID string, productID int64) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		s.log.Error(op+" failed", "user_id", userID, "product_id", productID, "error", err)
		return
	}
	s.log.Debug(op+" rejected", "user_id", userID, "product_id", productID, "code", code.String(), "error", err)
}

func validate(userID string, qty int32) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrEmptyUserID
	}
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return nil
}

func sortedItems(items []domain.CartItem) []domain.CartItem {
	out := slices.Clone(items)
	slices.SortFunc(out, func(a, b domain.CartItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}
