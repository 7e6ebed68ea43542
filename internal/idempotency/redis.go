// Package idempotency makes order placement replay-safe: a client that
// retries POST /orders with the same Idempotency-Key gets the first order
// back instead of a second one.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrInProgress = errors.New("a request with this idempotency key is still in progress")

const (
	pendingMarker = "pending"

	// a crashed request must not block its key forever
	defaultPendingTTL = 30 * time.Second
)

type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		ttl:        ttl,
		pendingTTL: defaultPendingTTL,
	}
}

// Begin claims key for userID. It returns the stored order id and
// replay=true when the key already completed, ErrInProgress when another
// request holds the claim, and replay=false when the caller now owns it.
func (r *RedisStore) Begin(ctx context.Context, userID, key string) (orderID string, replay bool, err error) {
	k := cacheKey(userID, key)

	// one retry covers a claim that expired between SETNX and GET
	for range 2 {
		ok, err := r.client.SetNX(ctx, k, pendingMarker, r.pendingTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			return "", false, nil
		}

		val, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("redis get failed: %w", err)
		}
		if val == pendingMarker {
			return "", false, ErrInProgress
		}
		return val, true, nil
	}
	return "", false, ErrInProgress
}

// Complete records orderID as the outcome of key.
func (r *RedisStore) Complete(ctx context.Context, userID, key, orderID string) error {
	if err := r.client.Set(ctx, cacheKey(userID, key), orderID, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Abort releases the claim so the client may retry.
func (r *RedisStore) Abort(ctx context.Context, userID, key string) error {
	if err := r.client.Del(ctx, cacheKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Do runs place at most once per (userID, key) while the key lives. Only
// successful placements are remembered; a failed one releases the key.
func (r *RedisStore) Do(ctx context.Context, userID, key string, place func(ctx context.Context) domain.OrderResult) (res domain.OrderResult, replayed bool, err error) {
	orderID, replay, err := r.Begin(ctx, userID, key)
	if err != nil {
		return domain.OrderResult{}, false, err
	}
	if replay {
		return domain.OrderResult{
			Success: true,
			OrderID: orderID,
			Message: domain.MsgOrderCreated,
			Code:    domain.CodeOK,
		}, true, nil
	}

	res = place(ctx)

	// the order is committed or refused at this point; record that even if
	// the request context has gone away
	bg := context.WithoutCancel(ctx)
	if res.Success {
		err = r.Complete(bg, userID, key, res.OrderID)
	} else {
		err = r.Abort(bg, userID, key)
	}
	return res, false, err
}

func cacheKey(userID, key string) string {
	return fmt.Sprintf("idempotency:order:%s:%s", userID, key)
}
