package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/idempotency"
	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/fjod/go_cart/storefront/internal/store/memory"
	"github.com/fjod/go_cart/storefront/internal/store/mongostore"
	"github.com/fjod/go_cart/storefront/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "storefront",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("storefront stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := pricing.NewEngine(cfg.TaxRate)
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}

	cat := catalog.NewService(st, log)
	if err := cat.Seed(ctx, seedProducts(cfg, log)); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	carts, closeCarts, err := openCartStore(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer closeCarts()

	cartSvc := cart.NewService(carts, cat, engine, log, cart.WithMetrics(m))
	orderSvc := order.NewService(order.Dependencies{
		Catalog: cat,
		Ledger:  inventory.NewLedger(st, st),
		Tx:      st,
		Orders:  st,
		Carts:   carts,
		Pricing: engine,
		Log:     log,
	},
		order.WithMetrics(m),
		order.WithRetryPolicy(order.RetryPolicy{
			MaxAttempts: uint(cfg.OrderMaxAttempts),
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		}),
	)

	var guard h.IdempotencyGuard
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		guard = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
		log.Info("idempotency keys enabled", "addr", cfg.RedisAddr, "ttl", cfg.IdempotencyTTL)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Products:       h.NewProductHandler(cat),
			Carts:          h.NewCartHandler(cartSvc),
			Orders:         h.NewOrdersHandler(orderSvc, guard, log),
			Metrics:        m,
			Log:            log,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, events.DefaultBreakerSettings(), log)
		defer pub.Close()
		relay := events.NewRelay(st, pub, cfg.RelayTick, log, events.WithRelayMetrics(m))
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
		log.Info("outbox relay started", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	g.Go(func() error {
		log.Info("HTTP server starting", "port", cfg.HTTPPort, "store", cfg.StoreDriver, "carts", cfg.CartStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("using sqlite store", "path", cfg.SQLitePath)
		return s, nil

	case config.DriverPostgres:
		pg := cfg.Postgres
		s, err := sqlstore.OpenPostgres(ctx, sqlstore.Credentials{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("using postgres store", "host", pg.Host, "db", pg.DBName)
		return s, nil
	}

	log.Info("using in-memory store")
	return memory.NewMemoryStore(), nil
}

// openCartStore returns the cart backend and a func that releases it.
func openCartStore(ctx context.Context, cfg *config.Config, st store.Store, log *slog.Logger) (store.CartStore, func(), error) {
	if cfg.CartStore != config.CartStoreMongo {
		return st, func() {}, nil
	}

	carts, client, err := mongostore.Open(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDB})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Error("failed to disconnect from MongoDB", "error", err)
		}
	}
	log.Info("using mongo cart store", "db", cfg.MongoDB)
	return carts, closeFn, nil
}

func seedProducts(cfg *config.Config, log *slog.Logger) []domain.Product {
	if cfg.SeedFile == "" {
		return catalog.DefaultProducts()
	}
	products, err := catalog.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		log.Warn("seed file unusable, falling back to default catalog", "path", cfg.SeedFile, "error", err)
		return catalog.DefaultProducts()
	}
	return products
}
