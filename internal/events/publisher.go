// Package events moves committed outbox events to Kafka. Orders write their
// events in the same unit as the order itself; the Relay here delivers them
// at least once.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

type Publisher interface {
	Publish(ctx context.Context, ev domain.OutboxEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type BreakerSettings struct {
	// consecutive failed writes before the breaker opens
	MaxFailures uint32
	// how long the breaker stays open before letting a trial request through
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxFailures: 5, OpenTimeout: 10 * time.Second}
}

type KafkaPublisher struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker[struct{}]
	log    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, bs BreakerSettings, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, bs, log)
}

func newKafkaPublisher(w messageWriter, bs BreakerSettings, log *slog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{writer: w, log: log}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-publisher",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Publish writes ev keyed by its aggregate id, so all events of one order
// land on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}

	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) State() gobreaker.State {
	return p.cb.State()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// IsUnavailable reports whether err came from an open breaker rather than a
// failed write.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
