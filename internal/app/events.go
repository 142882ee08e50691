package app

import (
	"context"
	"log/slog"

	"github.com/Kundhave/Sakhi/pkg/rabbitmq"
)

// EventBus publishes domain events on a single exchange. Publishing is fire-and-forget:
// failures are logged and never change the outcome of the operation that raised the event.
// A nil *EventBus drops events.
type EventBus struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
}

// NewEventBus creates an EventBus for the given exchange.
func NewEventBus(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *EventBus {
	return &EventBus{publisher: publisher, exchange: exchange, logger: logger}
}

func (b *EventBus) publish(ctx context.Context, routingKey string, event any) {
	if b == nil || b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, b.exchange, routingKey, event); err != nil {
		b.logger.Warn("event publish failed", "exchange", b.exchange, "routing_key", routingKey, "error", err)
	}
}
