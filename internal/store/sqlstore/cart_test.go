package sqlstore

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_GetCart_NotFound(t *testing.T) {
	s := setupSQLite(t)

	_, err := s.GetCart(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestCart_AddItem_Accumulates(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	first, err := s.AddItem(ctx, "user-1", 1, 2)
	require.NoError(t, err)
	second, err := s.AddItem(ctx, "user-1", 1, 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Items, 1)
	assert.Equal(t, int32(5), second.Items[0].Quantity)
}

func TestCart_AddItem_Validation(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user-1", 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = s.AddItem(ctx, "user-1", 9999, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	// the failed add must not leave a cart behind
	_, err = s.GetCart(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestCart_SetQuantityAndRemove(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, err := s.SetItemQuantity(ctx, "user-1", 1, 2)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = s.AddItem(ctx, "user-1", 1, 1)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user-1", 2, 1)
	require.NoError(t, err)

	c, err := s.SetItemQuantity(ctx, "user-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	_, err = s.SetItemQuantity(ctx, "user-1", 3, 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	c, err = s.RemoveItem(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(2), c.Items[0].ProductID)
	assert.Equal(t, int32(4), c.Items[0].Quantity)

	_, err = s.RemoveItem(ctx, "user-1", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	_, err = s.RemoveItem(ctx, "nobody", 1)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestCart_ClearKeepsRecord(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.ClearCart(ctx, "user-1"), domain.ErrCartNotFound)

	added, err := s.AddItem(ctx, "user-1", 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.ClearCart(ctx, "user-1"))

	c, err := s.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, added.ID, c.ID)
	assert.True(t, c.IsEmpty())
}

func TestCart_ConcurrentAddItem_NoLostUpdates(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddItem(ctx, "user-1", 2, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := s.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(workers), c.Items[0].Quantity)
}

func TestCart_AddItem_RejectsQuantityOverflow(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user-1", 1, math.MaxInt32)
	require.NoError(t, err)

	_, err = s.AddItem(ctx, "user-1", 1, 1)
	assert.ErrorIs(t, err, domain.ErrQuantityTooLarge)

	c, err := s.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(math.MaxInt32), c.Items[0].Quantity)
}

func TestCart_TakeItems(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, err := s.TakeItems(ctx, "user-1", []domain.CartItem{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = s.AddItem(ctx, "user-1", 1, 3)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user-1", 2, 1)
	require.NoError(t, err)

	c, err := s.TakeItems(ctx, "user-1", []domain.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(1), c.Items[0].ProductID)
	assert.Equal(t, int32(2), c.Items[0].Quantity)

	// the second line is short, so the first must not be taken either
	_, err = s.TakeItems(ctx, "user-1", []domain.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrCartChanged)

	c, err = s.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(2), c.Items[0].Quantity)
}

func TestCart_TakeItems_ConcurrentTakesOfOneSnapshot(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user-1", 1, 1)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TakeItems(ctx, "user-1", []domain.CartItem{{ProductID: 1, Quantity: 1}})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrCartChanged)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
