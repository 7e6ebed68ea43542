package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

// Every cart mutation runs in its own transaction and reads the cart back
// through the same transaction, so the returned cart is exactly what that
// call committed.

func (s *Store) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return loadCart(ctx, s.db, userID)
}

func (s *Store) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var c *domain.Cart
	err := s.cartTx(ctx, "get or create cart", func(tx *sql.Tx) error {
		if _, err := ensureCart(ctx, tx, userID, s.now()); err != nil {
			return err
		}
		var err error
		c, err = loadCart(ctx, tx, userID)
		return err
	})
	return c, err
}

func (s *Store) AddItem(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	var c *domain.Cart
	err := s.cartTx(ctx, "add cart item", func(tx *sql.Tx) error {
		now := s.now()
		cartID, err := ensureCart(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		// the WHERE skips the update, leaving no affected row, when the sum
		// would not fit in an int32
		query := `INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $4)
		          ON CONFLICT (cart_id, product_id) DO UPDATE SET
		              quantity = cart_items.quantity + excluded.quantity,
		              updated_at = excluded.updated_at
		          WHERE cart_items.quantity <= 2147483647 - excluded.quantity`
		res, err := tx.ExecContext(ctx, query, cartID, productID, qty, now)
		if isForeignKeyViolation(err) {
			return domain.ErrProductNotFound
		}
		n, err := rowsAffected(res, err, "upsert cart item")
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrQuantityTooLarge
		}

		if err := touchCart(ctx, tx, cartID, now); err != nil {
			return err
		}
		c, err = loadCart(ctx, tx, userID)
		return err
	})
	return c, err
}

func (s *Store) SetItemQuantity(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	var c *domain.Cart
	err := s.cartTx(ctx, "set cart item quantity", func(tx *sql.Tx) error {
		now := s.now()
		cartID, err := cartIDFor(ctx, tx, userID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE cart_items SET quantity = $1, updated_at = $2 WHERE cart_id = $3 AND product_id = $4`,
			qty, now, cartID, productID)
		if err := requireOneRow(res, err, "update cart item"); err != nil {
			return err
		}

		if err := touchCart(ctx, tx, cartID, now); err != nil {
			return err
		}
		c, err = loadCart(ctx, tx, userID)
		return err
	})
	return c, err
}

func (s *Store) RemoveItem(ctx context.Context, userID string, productID int64) (*domain.Cart, error) {
	var c *domain.Cart
	err := s.cartTx(ctx, "remove cart item", func(tx *sql.Tx) error {
		cartID, err := cartIDFor(ctx, tx, userID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
		if err := requireOneRow(res, err, "delete cart item"); err != nil {
			return err
		}

		if err := touchCart(ctx, tx, cartID, s.now()); err != nil {
			return err
		}
		c, err = loadCart(ctx, tx, userID)
		return err
	})
	return c, err
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	return s.cartTx(ctx, "clear cart", func(tx *sql.Tx) error {
		cartID, err := cartIDFor(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return wrap("delete cart items", err)
		}
		return touchCart(ctx, tx, cartID, s.now())
	})
}

func (s *Store) TakeItems(ctx context.Context, userID string, items []domain.CartItem) (*domain.Cart, error) {
	var c *domain.Cart
	err := s.cartTx(ctx, "take cart items", func(tx *sql.Tx) error {
		cartID, err := cartIDFor(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		for _, it := range items {
			if it.Quantity <= 0 {
				return domain.ErrCartChanged
			}

			res, err := tx.ExecContext(ctx,
				`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND quantity = $3`,
				cartID, it.ProductID, it.Quantity)
			n, err := rowsAffected(res, err, "take cart item")
			if err != nil {
				return err
			}
			if n == 1 {
				continue
			}

			res, err = tx.ExecContext(ctx,
				`UPDATE cart_items SET quantity = quantity - $1, updated_at = $2
				 WHERE cart_id = $3 AND product_id = $4 AND quantity > $1`,
				it.Quantity, now, cartID, it.ProductID)
			n, err = rowsAffected(res, err, "take cart item")
			if err != nil {
				return err
			}
			if n == 0 {
				// rolling back restores the lines already taken
				return domain.ErrCartChanged
			}
		}

		if err := touchCart(ctx, tx, cartID, now); err != nil {
			return err
		}
		c, err = loadCart(ctx, tx, userID)
		return err
	})
	return c, err
}

func (s *Store) cartTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op+": begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap(op+": commit", err)
	}
	return nil
}

// ensureCart creates the user's cart unless it exists. The unique user_id
// constraint decides the race between concurrent first calls; the loser
// reads the winner's row.
func ensureCart(ctx context.Context, q querier, userID string, now time.Time) (string, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.NewString(), userID, now)
	if err != nil {
		return "", wrap("insert cart", err)
	}
	return cartIDFor(ctx, q, userID)
}

func cartIDFor(ctx context.Context, q querier, userID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrCartNotFound
	}
	if err != nil {
		return "", wrap("query cart id", err)
	}
	return id, nil
}

func touchCart(ctx context.Context, q querier, cartID string, now time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE carts SET updated_at = $1 WHERE id = $2`, now, cartID)
	return wrap("touch cart", err)
}

func rowsAffected(res sql.Result, err error, op string) (int64, error) {
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
}

func requireOneRow(res sql.Result, err error, op string) error {
	n, err := rowsAffected(res, err, op)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func loadCart(ctx context.Context, q querier, userID string) (*domain.Cart, error) {
	var c domain.Cart
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, wrap("query cart", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity, created_at, updated_at
		 FROM cart_items WHERE cart_id = $1
		 ORDER BY created_at, product_id`, c.ID)
	if err != nil {
		return nil, wrap("query cart items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item row: %w", err)
		}
		it.CreatedAt = it.CreatedAt.UTC()
		it.UpdatedAt = it.UpdatedAt.UTC()
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &c, nil
}
