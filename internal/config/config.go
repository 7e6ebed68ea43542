package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CartStoreDefault = "store"
	CartStoreMongo   = "mongo"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	StoreDriver string
	SQLitePath  string
	Postgres    PostgresConfig

	CartStore string
	MongoURI  string
	MongoDB   string

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	RelayTick    time.Duration

	SeedFile string

	TaxRate          decimal.Decimal
	OrderMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "dev"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		SQLitePath:      getEnv("SQLITE_PATH", "storefront.db"),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "storefront"),
			Password: getEnv("POSTGRES_PASSWORD", "storefront"),
			DBName:   getEnv("POSTGRES_DB", "storefront"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		CartStore:        strings.ToLower(getEnv("CART_STORE", CartStoreDefault)),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:          getEnv("MONGO_DB", "storefront"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "storefront-orders"),
		RelayTick:        getEnvDuration("RELAY_TICK", time.Second),
		SeedFile:         getEnv("SEED_FILE", ""),
		OrderMaxAttempts: getEnvInt("ORDER_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 20*time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 500*time.Millisecond),
	}

	rate, err := decimal.NewFromString(getEnv("TAX_RATE", "0.08"))
	if err != nil {
		return nil, fmt.Errorf("invalid TAX_RATE: %w", err)
	}
	cfg.TaxRate = rate

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.CartStore {
	case CartStoreDefault, CartStoreMongo:
	default:
		return fmt.Errorf("unknown CART_STORE %q", c.CartStore)
	}
	if c.OrderMaxAttempts < 1 {
		return fmt.Errorf("ORDER_MAX_ATTEMPTS must be at least 1, got %d", c.OrderMaxAttempts)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
