package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/idempotency"
	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler http.Handler
	store   *memory.MemoryStore
	metrics *metrics.Metrics
}

func setupRouter(t *testing.T, guard IdempotencyGuard) testEnv {
	s := memory.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())

	cat := catalog.NewService(s, log)
	require.NoError(t, cat.Seed(context.Background(), catalog.DefaultProducts()))

	carts := cart.NewService(s, cat, pricing.Default(), log, cart.WithMetrics(m))
	orders := order.NewService(order.Dependencies{
		Catalog: cat,
		Ledger:  inventory.NewLedger(s, s),
		Tx:      s,
		Orders:  s,
		Carts:   s,
		Pricing: pricing.Default(),
		Log:     log,
	}, order.WithMetrics(m))

	h := NewRouter(RouterConfig{
		Products:       NewProductHandler(cat),
		Carts:          NewCartHandler(carts),
		Orders:         NewOrdersHandler(orders, guard, log),
		Metrics:        m,
		Log:            log,
		RequestTimeout: 5 * time.Second,
	})
	return testEnv{handler: h, store: s, metrics: m}
}

func (e testEnv) do(t *testing.T, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProducts(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ProductsResponse](t, rec)
	assert.Len(t, list.Products, 3)

	rec = env.do(t, http.MethodGet, "/api/v1/products/1", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.Product](t, rec)
	assert.Equal(t, "Laptop", p.Name)
	assert.Equal(t, "899.99", p.Price.StringFixed(2))

	rec = env.do(t, http.MethodGet, "/api/v1/products/9999", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "not_found", errResp.Code)
	assert.Equal(t, "product not found", errResp.Error)

	rec = env.do(t, http.MethodGet, "/api/v1/products/abc", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartRoutes_RequireUser(t *testing.T) {
	env := setupRouter(t, nil)

	for _, path := range []string{"/api/v1/cart", "/api/v1/orders"} {
		rec := env.do(t, http.MethodGet, path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Code)
	}
}

func TestCartFlow(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: 2, Quantity: 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decode[domain.CartResult](t, rec)
	assert.True(t, added.Success)
	assert.Equal(t, domain.MsgItemAdded, added.Message)
	// 50.00 + 4.00 tax
	assert.Equal(t, "54.00", added.CartTotal.StringFixed(2))

	rec = env.do(t, http.MethodGet, "/api/v1/cart", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[CartResponseDTO](t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Mouse", view.Items[0].ProductName)
	assert.Equal(t, "50.00", view.Total.Subtotal.StringFixed(2))

	rec = env.do(t, http.MethodPut, "/api/v1/cart/items/2", "user-1", UpdateQuantityRequestDTO{Quantity: 3}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/cart/total", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	total := decode[domain.CartTotal](t, rec)
	assert.Equal(t, "75.00", total.Subtotal.StringFixed(2))
	assert.Equal(t, "6.00", total.Tax.StringFixed(2))
	assert.Equal(t, "81.00", total.TotalWithTax.StringFixed(2))

	rec = env.do(t, http.MethodDelete, "/api/v1/cart/items/2", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MsgItemRemoved, decode[domain.CartResult](t, rec).Message)

	rec = env.do(t, http.MethodDelete, "/api/v1/cart/items/2", "user-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "item not found in cart", decode[domain.CartResult](t, rec).Message)

	rec = env.do(t, http.MethodDelete, "/api/v1/cart", "user-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/cart", "user-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddItem_BadRequests(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", "invalid json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: 1, Quantity: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := decode[domain.CartResult](t, rec)
	assert.Equal(t, domain.CodeValidation, res.Code)
	assert.Equal(t, "quantity must be positive", res.Message)

	rec = env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: 9999, Quantity: 1}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/cart/items/0", "user-1", UpdateQuantityRequestDTO{Quantity: 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_product_id", decode[ErrorResponse](t, rec).Code)
}

func TestCreateOrder(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/orders", "user-1", CreateOrderRequestDTO{ProductID: 1, Quantity: 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[domain.OrderResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "order created successfully", res.Message)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+res.OrderID, "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	o := decode[domain.Order](t, rec)
	assert.Equal(t, "1799.98", o.TotalPrice.StringFixed(2))

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+res.OrderID, "user-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Order](t, rec), 1)

	p, err := env.store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(8), p.Stock)
}

func TestCreateOrder_Failures(t *testing.T) {
	env := setupRouter(t, nil)

	tests := []struct {
		name    string
		req     CreateOrderRequestDTO
		status  int
		code    domain.ResultCode
		message string
	}{
		{"unknown product", CreateOrderRequestDTO{ProductID: 9999, Quantity: 1}, http.StatusNotFound, domain.CodeNotFound, "product not found"},
		{"out of stock", CreateOrderRequestDTO{ProductID: 3, Quantity: 1}, http.StatusConflict, domain.CodeInsufficientStock, "insufficient stock, only 0 available"},
		{"zero quantity", CreateOrderRequestDTO{ProductID: 1, Quantity: 0}, http.StatusBadRequest, domain.CodeValidation, "quantity must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/orders", "user-1", tt.req, nil)
			assert.Equal(t, tt.status, rec.Code)
			res := decode[domain.OrderResult](t, rec)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, tt.message, res.Message)
		})
	}
}

func TestCheckout(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/checkout", "user-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: 1, Quantity: 1}, nil)
	env.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: 2, Quantity: 1}, nil)

	rec = env.do(t, http.MethodPost, "/api/v1/cart/checkout", "user-1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[domain.CheckoutResult](t, rec)
	assert.Len(t, res.OrderIDs, 2)
	// 899.99 + 25.00 = 924.99, tax 73.9992 -> 74.00
	assert.Equal(t, "998.99", res.Total.TotalWithTax.StringFixed(2))

	rec = env.do(t, http.MethodPost, "/api/v1/cart/checkout", "user-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cart is empty", decode[domain.CheckoutResult](t, rec).Message)
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := setupRouter(t, idempotency.NewRedisStore(client, time.Hour))
	headers := map[string]string{IdempotencyKeyHeader: "abc-123"}
	body := CreateOrderRequestDTO{ProductID: 1, Quantity: 1}

	first := env.do(t, http.MethodPost, "/api/v1/orders", "user-1", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	firstRes := decode[domain.OrderResult](t, first)

	second := env.do(t, http.MethodPost, "/api/v1/orders", "user-1", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Equal(t, firstRes.OrderID, decode[domain.OrderResult](t, second).OrderID)

	p, err := env.store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(9), p.Stock, "the replay must not decrement again")

	// a pending claim from a concurrent request is reported as a conflict
	require.NoError(t, mr.Set("idempotency:order:user-1:held", "pending"))
	held := env.do(t, http.MethodPost, "/api/v1/orders", "user-1", body, map[string]string{IdempotencyKeyHeader: "held"})
	assert.Equal(t, http.StatusConflict, held.Code)
	assert.Equal(t, "idempotency_in_progress", decode[ErrorResponse](t, held).Code)
}

func TestCreateOrder_IdempotencyStoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	env := setupRouter(t, idempotency.NewRedisStore(client, time.Hour))

	rec := env.do(t, http.MethodPost, "/api/v1/orders", "user-1",
		CreateOrderRequestDTO{ProductID: 1, Quantity: 1}, map[string]string{IdempotencyKeyHeader: "k"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	p, err := env.store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t, nil)

	env.do(t, http.MethodGet, "/api/v1/products/1", "", nil, nil)
	env.do(t, http.MethodGet, "/api/v1/products/2", "", nil, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Requests.WithLabelValues("/api/v1/products/{id}", "200")))

	rec := env.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "storefront_http_requests_total"))
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.ResultCode]int{
		domain.CodeOK:                http.StatusOK,
		domain.CodeValidation:        http.StatusBadRequest,
		domain.CodeNotFound:          http.StatusNotFound,
		domain.CodeInsufficientStock: http.StatusConflict,
		domain.CodeConflict:          http.StatusConflict,
		domain.CodeCanceled:          http.StatusRequestTimeout,
		domain.CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code.String())
	}
}
