package memory

import (
	"context"
	"math"
	"slices"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

// entry returns the user's cart entry, creating it when create is set.
// Creation happens under cartsMu, so a user never gets two carts.
func (s *MemoryStore) entry(userID string, create bool) *cartEntry {
	s.cartsMu.Lock()
	defer s.cartsMu.Unlock()

	e, ok := s.carts[userID]
	if !ok && create {
		now := s.now()
		e = &cartEntry{cart: domain.Cart{
			ID:        uuid.NewString(),
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.carts[userID] = e
	}
	return e
}

func (s *MemoryStore) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	e := s.entry(userID, false)
	if e == nil {
		return nil, domain.ErrCartNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneCart(&e.cart), nil
}

func (s *MemoryStore) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneCart(&e.cart), nil
}

func (s *MemoryStore) AddItem(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	idx := indexOf(e.cart.Items, productID)
	if idx >= 0 {
		if e.cart.Items[idx].Quantity > math.MaxInt32-qty {
			return nil, domain.ErrQuantityTooLarge
		}
		e.cart.Items[idx].Quantity += qty
		e.cart.Items[idx].UpdatedAt = now
	} else {
		e.cart.Items = append(e.cart.Items, domain.CartItem{
			ProductID: productID,
			Quantity:  qty,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	e.cart.UpdatedAt = now

	return cloneCart(&e.cart), nil
}

func (s *MemoryStore) SetItemQuantity(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(userID, false)
	if e == nil {
		return nil, domain.ErrCartNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := indexOf(e.cart.Items, productID)
	if idx < 0 {
		return nil, domain.ErrItemNotFound
	}

	now := s.now()
	e.cart.Items[idx].Quantity = qty
	e.cart.Items[idx].UpdatedAt = now
	e.cart.UpdatedAt = now

	return cloneCart(&e.cart), nil
}

func (s *MemoryStore) RemoveItem(ctx context.Context, userID string, productID int64) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(userID, false)
	if e == nil {
		return nil, domain.ErrCartNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := indexOf(e.cart.Items, productID)
	if idx < 0 {
		return nil, domain.ErrItemNotFound
	}

	e.cart.Items = slices.Delete(e.cart.Items, idx, idx+1)
	e.cart.UpdatedAt = s.now()

	return cloneCart(&e.cart), nil
}

func (s *MemoryStore) ClearCart(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.entry(userID, false)
	if e == nil {
		return domain.ErrCartNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cart.Items = nil
	e.cart.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) TakeItems(ctx context.Context, userID string, items []domain.CartItem) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(userID, false)
	if e == nil {
		return nil, domain.ErrCartNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// check every line before touching any
	for _, it := range items {
		idx := indexOf(e.cart.Items, it.ProductID)
		if it.Quantity <= 0 || idx < 0 || e.cart.Items[idx].Quantity < it.Quantity {
			return nil, domain.ErrCartChanged
		}
	}

	now := s.now()
	for _, it := range items {
		idx := indexOf(e.cart.Items, it.ProductID)
		left := e.cart.Items[idx].Quantity - it.Quantity
		if left == 0 {
			e.cart.Items = slices.Delete(e.cart.Items, idx, idx+1)
			continue
		}
		e.cart.Items[idx].Quantity = left
		e.cart.Items[idx].UpdatedAt = now
	}
	e.cart.UpdatedAt = now

	return cloneCart(&e.cart), nil
}

func indexOf(items []domain.CartItem, productID int64) int {
	return slices.IndexFunc(items, func(it domain.CartItem) bool { return it.ProductID == productID })
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = slices.Clone(c.Items)
	return &out
}
