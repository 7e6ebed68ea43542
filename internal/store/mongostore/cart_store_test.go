package mongostore

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) *CartStore {
	if testing.Short() {
		t.Skip("mongodb container test skipped in -short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	s, client, err := Open(ctx, Config{URI: uri, Database: "testdb", MaxPoolSize: 10, MinPoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return s
}

func TestGetCart_NotFound(t *testing.T) {
	s := setupTestDB(t)

	cart, err := s.GetCart(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestGetOrCreateCart_ReturnsSameCart(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	first, err := s.GetOrCreateCart(ctx, "user123")
	require.NoError(t, err)
	second, err := s.GetOrCreateCart(ctx, "user123")
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "user123", second.UserID)
	assert.Empty(t, second.Items)
}

func TestAddItem_NewCartAndAccumulate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	cart, err := s.AddItem(ctx, "user123", 1, 3)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(3), cart.Items[0].Quantity)

	cart, err = s.AddItem(ctx, "user123", 1, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(5), cart.Items[0].Quantity)

	cart, err = s.AddItem(ctx, "user123", 2, 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	_, err = s.AddItem(ctx, "user123", 2, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestSetItemQuantity(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.SetItemQuantity(ctx, "user123", 1, 4)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = s.AddItem(ctx, "user123", 1, 1)
	require.NoError(t, err)

	cart, err := s.SetItemQuantity(ctx, "user123", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(4), cart.Items[0].Quantity)

	_, err = s.SetItemQuantity(ctx, "user123", 2, 4)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestRemoveItem(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.RemoveItem(ctx, "user123", 1)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = s.AddItem(ctx, "user123", 1, 1)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user123", 2, 1)
	require.NoError(t, err)

	cart, err := s.RemoveItem(ctx, "user123", 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(2), cart.Items[0].ProductID)

	_, err = s.RemoveItem(ctx, "user123", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestClearCart_KeepsRecord(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.ClearCart(ctx, "user123"), domain.ErrCartNotFound)

	added, err := s.AddItem(ctx, "user123", 1, 2)
	require.NoError(t, err)
	require.NoError(t, s.ClearCart(ctx, "user123"))

	cart, err := s.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, added.ID, cart.ID)
	assert.True(t, cart.IsEmpty())
}

func TestAddItem_ConcurrentFirstAdds(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddItem(ctx, "user123", 7, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := s.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(workers), cart.Items[0].Quantity)
}

func TestAddItem_RejectsQuantityOverflow(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user123", 1, math.MaxInt32)
	require.NoError(t, err)

	_, err = s.AddItem(ctx, "user123", 1, 1)
	assert.ErrorIs(t, err, domain.ErrQuantityTooLarge)

	cart, err := s.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), cart.Items[0].Quantity)
}

func TestTakeItems(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.TakeItems(ctx, "user123", []domain.CartItem{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = s.AddItem(ctx, "user123", 1, 3)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user123", 2, 1)
	require.NoError(t, err)

	cart, err := s.TakeItems(ctx, "user123", []domain.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(1), cart.Items[0].ProductID)
	assert.Equal(t, int32(2), cart.Items[0].Quantity)

	// product 2 is gone, so nothing is taken
	_, err = s.TakeItems(ctx, "user123", []domain.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrCartChanged)

	cart, err = s.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(2), cart.Items[0].Quantity)
}

func TestTakeItems_ConcurrentTakesOfOneSnapshot(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user123", 1, 1)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TakeItems(ctx, "user123", []domain.CartItem{{ProductID: 1, Quantity: 1}})
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
