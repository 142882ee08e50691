/**
 * @description
 * A reusable RabbitMQ consumer. Sakhi uses it to receive inbound chat messages that
 * external gateways (WhatsApp bridge, SMS gateway) publish onto the events exchange.
 *
 * Key features:
 * - Declares a topic exchange and a durable queue bound to one or more routing keys.
 * - Dispatches each delivery to the handler registered for its routing key.
 * - Acks when the handler returns true, nacks and requeues otherwise.
 */
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes a single RabbitMQ message body.
// It should return true to acknowledge (ack) the message, or false to reject (nack) and requeue it.
type MessageHandler func(body []byte) bool

// Consumer handles the connection and consumption of messages from RabbitMQ.
type Consumer struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	logger *slog.Logger
}

// NewConsumer creates a new RabbitMQ consumer.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := SanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// ConsumeWithBindings binds queueName to every routing key in bindings and dispatches
// deliveries until ctx is cancelled or the delivery channel closes.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]MessageHandler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]MessageHandler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.dispatch(d, handlers)
		}
	}
}

func (c *Consumer) dispatch(d amqp091.Delivery, handlers map[string]MessageHandler) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; acknowledging to drop", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	if handler(d.Body) {
		_ = d.Ack(false)
		return
	}
	c.logger.Warn("handler failed; re-queuing", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey)
	_ = d.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
