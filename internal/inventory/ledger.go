// Package inventory owns stock mutation. DecrementIn is the only caller of
// store.Tx.DecrementStock.
package inventory

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
)

type Ledger struct {
	tx      store.Transactor
	catalog store.CatalogStore
}

func NewLedger(tx store.Transactor, catalog store.CatalogStore) *Ledger {
	return &Ledger{tx: tx, catalog: catalog}
}

// TryDecrement lowers stock for productID in its own unit and returns the new
// level. Errors: domain.ErrInvalidQuantity, domain.ErrProductNotFound or
// *domain.InsufficientStockError.
func (l *Ledger) TryDecrement(ctx context.Context, productID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var level int32
	err := l.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		level, err = l.DecrementIn(ctx, tx, productID, qty)
		return err
	})
	if err != nil {
		return 0, err
	}
	return level, nil
}

// DecrementIn is TryDecrement inside a unit owned by the caller, so the
// decrement commits or rolls back together with the caller's other writes.
func (l *Ledger) DecrementIn(ctx context.Context, tx store.Tx, productID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	level, err := tx.DecrementStock(ctx, productID, qty)
	if err != nil {
		return 0, fmt.Errorf("decrement product %d by %d: %w", productID, qty, err)
	}
	if level < 0 {
		// a store that returns this is broken; refuse to commit
		return 0, fmt.Errorf("decrement product %d: stock would be %d: %w", productID, level, domain.ErrInternal)
	}
	return level, nil
}

// Available returns the committed stock level.
func (l *Ledger) Available(ctx context.Context, productID int64) (int32, error) {
	p, err := l.catalog.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}
