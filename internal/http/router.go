// Package http is the REST surface of the storefront: products, carts,
// orders and checkout, plus /health and /metrics.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Products *ProductHandler
	Carts    *CartHandler
	Orders   *OrdersHandler
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", cfg.Products.List)
		r.Get("/products/{id}", cfg.Products.Get)

		r.Group(func(r chi.Router) {
			r.Use(MockAuthMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cfg.Carts.GetCart)
				r.Delete("/", cfg.Carts.ClearCart)
				r.Get("/total", cfg.Carts.GetTotal)
				r.Post("/items", cfg.Carts.AddItem)
				r.Put("/items/{product_id}", cfg.Carts.UpdateQuantity)
				r.Delete("/items/{product_id}", cfg.Carts.RemoveItem)
				r.Post("/checkout", cfg.Orders.Checkout)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", cfg.Orders.CreateOrder)
				r.Get("/", cfg.Orders.ListOrders)
				r.Get("/{order_id}", cfg.Orders.GetOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
