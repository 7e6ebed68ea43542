package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
)

// RetryPolicy bounds how often a unit that lost a concurrency conflict is
// re-run. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	return b
}

// commit runs fn in a unit of work and re-runs it on
// domain.ErrConcurrencyConflict. Any other error stops immediately. A conflict
// that outlasts the policy is reported as domain.ErrInternal.
func (s *Service) commit(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	attempts := s.retry.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	op := func() (struct{}, error) {
		if s.metrics != nil {
			s.metrics.OrderAttempts.Inc()
		}
		err := s.tx.WithinTx(ctx, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, domain.ErrConcurrencyConflict):
			s.log.Debug("unit of work conflicted, retrying", "error", err)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.retry.backOff()),
		backoff.WithMaxTries(attempts),
	)
	if err != nil && errors.Is(err, domain.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrInternal, attempts, err)
	}
	return err
}
