// Package sqlstore is the database/sql backend. One Store serves Postgres
// (lib/pq) and SQLite (modernc.org/sqlite); both accept $N placeholders, so
// the queries are shared and only the schema differs per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func OpenPostgres(ctx context.Context, cred Credentials) (*Store, error) {
	sslMode := cred.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName,
		sslMode)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return New(db, Postgres), nil
}

// OpenSQLite opens (or creates) the database file at path. SQLite allows one
// writer, so the pool is a single connection and units queue on it.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, SQLite), nil
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, name, description, price, original_price, stock, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.OriginalPrice,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, wrap("query product", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("query products", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

// UpsertProduct leaves stock alone on an existing row, so seeding a durable
// store at every boot never restores sold units.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	query := `INSERT INTO products (id, name, description, price, original_price, stock, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (id) DO UPDATE SET
	              name = excluded.name,
	              description = excluded.description,
	              price = excluded.price,
	              original_price = excluded.original_price,
	              updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.OriginalPrice,
		p.Stock,
		p.CreatedAt.UTC(),
		now)
	return wrap("upsert product", err)
}

// WithinTx runs fn in one *sql.Tx. The transaction itself is started without
// the caller's cancellation so that a commit, once issued, runs to the end;
// statements inside fn still observe ctx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

type sqlTx struct {
	tx  *sql.Tx
	now func() time.Time
}

// DecrementStock is a conditional update: the row is changed only if enough
// stock is left, and the database's row lock orders concurrent callers.
func (t *sqlTx) DecrementStock(ctx context.Context, productID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	query := `UPDATE products SET stock = stock - $1, updated_at = $3
	          WHERE id = $2 AND stock >= $1
	          RETURNING stock`

	var level int32
	err := t.tx.QueryRowContext(ctx, query, qty, productID, t.now()).Scan(&level)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrap("decrement stock", err)
	}

	var available int32
	err = t.tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, wrap("read stock", err)
	}
	return 0, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (t *sqlTx) InsertOrder(ctx context.Context, o domain.Order) error {
	query := `INSERT INTO orders (id, user_id, product_id, quantity, unit_price, total_price, discount_percent, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		o.ProductID,
		o.Quantity,
		o.UnitPrice,
		o.TotalPrice,
		o.DiscountPercent,
		o.CreatedAt.UTC())
	if isForeignKeyViolation(err) {
		return domain.ErrProductNotFound
	}
	return wrap("insert order", err)
}

func (t *sqlTx) AppendEvent(ctx context.Context, ev domain.OutboxEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now()
	}

	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(ctx, query,
		ev.ID,
		ev.AggregateID,
		ev.EventType,
		string(ev.Payload),
		ev.CreatedAt.UTC())
	return wrap("insert outbox event", err)
}

const orderColumns = `id, user_id, product_id, quantity, unit_price, total_price, discount_percent, created_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.ProductID,
		&o.Quantity,
		&o.UnitPrice,
		&o.TotalPrice,
		&o.DiscountPercent,
		&o.CreatedAt,
	)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	// a malformed uuid cannot name an order
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, wrap("query order by id", err)
	}
	return o, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrap("query orders by user id", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events
	          WHERE published_at IS NULL
	          ORDER BY created_at, id
	          LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrap("query pending events", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (s *Store) MarkEventPublished(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = $1 WHERE id = $2`, s.now(), id)
	if isInvalidText(err) {
		return store.ErrEventNotFound
	}
	if err != nil {
		return wrap("mark event published", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrEventNotFound
	}
	return nil
}
