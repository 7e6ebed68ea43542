package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/store"
)

const defaultBatchSize = 100

type Relay struct {
	outbox    store.OutboxStore
	publisher Publisher
	tick      time.Duration
	batchSize int
	metrics   *metrics.Metrics
	log       *slog.Logger
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(outbox store.OutboxStore, pub Publisher, tick time.Duration, log *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: pub,
		tick:      tick,
		batchSize: defaultBatchSize,
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls the outbox every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processPending publishes one batch and returns how many events were marked
// published. An event that was published but could not be marked is sent
// again on a later tick.
func (r *Relay) processPending(ctx context.Context) int {
	events, err := r.outbox.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		r.log.Error("failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, ev := range events {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			if IsUnavailable(err) {
				r.observe("skipped")
				r.log.Warn("publisher unavailable, deferring batch", "pending", len(events)-published)
				return published
			}
			r.observe("failed")
			r.log.Error("failed to publish event", "event_id", ev.ID, "error", err)
			continue
		}

		if err := r.outbox.MarkEventPublished(ctx, ev.ID); err != nil {
			r.observe("failed")
			r.log.Error("failed to mark event as published", "event_id", ev.ID, "error", err)
			continue
		}
		r.observe("published")
		published++
	}
	return published
}

func (r *Relay) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.EventsRelayed.WithLabelValues(outcome).Inc()
	}
}
