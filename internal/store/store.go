package store

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var ErrEventNotFound = errors.New("outbox event not found")

// CatalogStore is read access to products plus the seeding path.
type CatalogStore interface {
	// GetProduct returns the latest committed product row, stock included.
	// Returns domain.ErrProductNotFound if absent.
	GetProduct(ctx context.Context, id int64) (domain.Product, error)

	// ListProducts returns all products ordered by id
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// UpsertProduct inserts a product or refreshes its name, description and
	// prices. Stock is written only on insert; afterwards the ledger owns it.
	UpsertProduct(ctx context.Context, p domain.Product) error
}

// CartStore owns cart aggregates. Mutations on one user's cart are
// serialized; every method returns the cart as committed by that call.
type CartStore interface {
	// GetCart returns domain.ErrCartNotFound if the user has no cart
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// GetOrCreateCart creates at most one cart per user, even under
	// concurrent first calls
	GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error)

	// AddItem creates the cart if needed and adds qty to the line for
	// productID, creating the line if absent. A line that would exceed
	// math.MaxInt32 fails with domain.ErrQuantityTooLarge.
	AddItem(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error)

	// SetItemQuantity overwrites the quantity of an existing line; qty must be > 0
	SetItemQuantity(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error)

	// RemoveItem deletes the line. Returns domain.ErrCartNotFound or
	// domain.ErrItemNotFound without mutating anything.
	RemoveItem(ctx context.Context, userID string, productID int64) (*domain.Cart, error)

	// ClearCart removes all lines but keeps the cart record
	ClearCart(ctx context.Context, userID string) error

	// TakeItems subtracts each item's quantity from its line and drops lines
	// that reach zero, all or nothing. A missing line, or one holding less
	// than requested, fails with domain.ErrCartChanged and changes nothing.
	TakeItems(ctx context.Context, userID string, items []domain.CartItem) (*domain.Cart, error)
}

// Tx is one transactional unit. Nothing done through it is visible to other
// callers until the unit commits.
type Tx interface {
	// DecrementStock lowers stock by qty when at least qty is available and
	// returns the new level. Fails with domain.ErrProductNotFound or
	// *domain.InsufficientStockError. Only the inventory ledger calls this.
	DecrementStock(ctx context.Context, productID int64, qty int32) (int32, error)

	InsertOrder(ctx context.Context, o domain.Order) error

	AppendEvent(ctx context.Context, ev domain.OutboxEvent) error
}

type Transactor interface {
	// WithinTx runs fn in a single unit: it commits if fn returns nil and
	// rolls back otherwise. A context that is done before commit aborts the
	// unit. Storage contention surfaces as domain.ErrConcurrencyConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type OrderStore interface {
	// GetOrder returns domain.ErrOrderNotFound if absent
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// ListOrdersByUser returns the user's orders, newest first
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

type OutboxStore interface {
	// FetchPendingEvents returns up to limit unpublished events, oldest first
	FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)

	// MarkEventPublished returns ErrEventNotFound for an unknown id
	MarkEventPublished(ctx context.Context, id string) error
}

// Store is everything a storage backend provides.
type Store interface {
	CatalogStore
	CartStore
	Transactor
	OrderStore
	OutboxStore

	// Close releases the backend's resources
	Close() error
}
