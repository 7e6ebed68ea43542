package domain

import "time"

const (
	EventOrderCreated = "order.created"
)

// OutboxEvent is written in the same unit as the state change it describes
// and relayed to the broker afterwards.
type OutboxEvent struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}
