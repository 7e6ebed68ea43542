package idempotency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, time.Hour), mr
}

func TestBegin_FirstCallOwnsKey(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	orderID, replay, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Empty(t, orderID)

	val, err := mr.Get(cacheKey("user-1", "k1"))
	require.NoError(t, err)
	assert.Equal(t, pendingMarker, val)
	assert.Equal(t, defaultPendingTTL, mr.TTL(cacheKey("user-1", "k1")))
}

func TestBegin_InProgress(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)

	_, _, err = s.Begin(ctx, "user-1", "k1")
	assert.ErrorIs(t, err, ErrInProgress)

	// keys are scoped per user
	_, replay, err := s.Begin(ctx, "user-2", "k1")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestComplete_ThenReplay(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "user-1", "k1", "order-42"))
	assert.Equal(t, time.Hour, mr.TTL(cacheKey("user-1", "k1")))

	orderID, replay, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, "order-42", orderID)
}

func TestAbort_ReleasesKey(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	require.NoError(t, s.Abort(ctx, "user-1", "k1"))
	assert.False(t, mr.Exists(cacheKey("user-1", "k1")))

	_, replay, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestBegin_PendingClaimExpires(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)

	mr.FastForward(defaultPendingTTL + time.Second)

	_, replay, err := s.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestDo_PlacesOnce(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	var calls atomic.Int32
	place := func(context.Context) domain.OrderResult {
		calls.Add(1)
		return domain.OrderResult{Success: true, OrderID: "order-1", Message: domain.MsgOrderCreated, Code: domain.CodeOK}
	}

	first, replayed, err := s.Do(ctx, "user-1", "k1", place)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "order-1", first.OrderID)

	second, replayed, err := s.Do(ctx, "user-1", "k1", place)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_FailureIsNotRemembered(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	res, replayed, err := s.Do(ctx, "user-1", "k1", func(context.Context) domain.OrderResult {
		return domain.FailedOrder(domain.ErrProductNotFound)
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.False(t, res.Success)
	assert.False(t, mr.Exists(cacheKey("user-1", "k1")))
}

func TestBegin_RedisDown(t *testing.T) {
	s, mr := setupTestRedis(t)
	mr.Close()

	_, _, err := s.Begin(context.Background(), "user-1", "k1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInProgress)
}
