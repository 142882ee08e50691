package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/pkg/messaging"
	"github.com/Kundhave/Sakhi/pkg/rabbitmq"
)

// Routing keys external gateways publish inbound messages on.
const (
	RoutingKeyInboundWhatsApp = "chat.inbound.whatsapp"
	RoutingKeyInboundSMS      = "chat.inbound.sms"
)

// ErrRateLimited matches every RateLimitError.
var ErrRateLimited = errors.New("sender is rate limited")

// RateLimitError is returned by Handle when a sender exceeds the inbound message limit.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s; retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Handler handles one message from a sender and returns the reply.
type Handler interface {
	HandleIncoming(ctx context.Context, sender, text string) (string, error)
}

// Gateway is the transport-agnostic entry point for inbound chat messages.
type Gateway struct {
	handler Handler
	sender  messaging.Sender
	limiter InboundLimiter
	logger  *slog.Logger
}

// NewGateway creates a Gateway. limiter may be nil to disable rate limiting.
func NewGateway(handler Handler, sender messaging.Sender, limiter InboundLimiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		handler: handler,
		sender:  sender,
		limiter: limiter,
		logger:  logger,
	}
}

// NormalizeSender strips WhatsApp JID suffixes from a sender address.
func NormalizeSender(from string) string {
	from = strings.TrimSpace(from)
	for _, suffix := range []string{"@c.us", "@s.whatsapp.net"} {
		from = strings.TrimSuffix(from, suffix)
	}
	return from
}

func ignored(msg domain.InboundMessage) bool {
	return msg.IsGroup || msg.IsStatus ||
		strings.HasSuffix(msg.From, "@g.us") ||
		strings.HasPrefix(msg.From, "status@")
}

// Handle runs one inbound message through the state machine and returns the reply without
// sending it. Group and status messages return an empty reply. An unregistered sender gets
// the NOT_REGISTERED reply and a nil error.
func (g *Gateway) Handle(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if ignored(msg) {
		return "", nil
	}
	from := NormalizeSender(msg.From)
	if from == "" {
		return "", nil
	}

	if g.limiter != nil {
		decision, err := g.limiter.Allow(ctx, msg.Channel, from)
		if err != nil {
			g.logger.Warn("inbound rate limit check failed; allowing message", "sender", from, "channel", msg.Channel, "error", err)
		} else if !decision.Allowed {
			g.logger.Warn("inbound message rate limited", "sender", from, "channel", msg.Channel, "count", decision.Count, "retry_after", decision.RetryAfter)
			return "", &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	reply, err := g.handler.HandleIncoming(ctx, from, msg.Text)
	if errors.Is(err, ErrNotRegistered) {
		g.logger.Info("message from unregistered sender", "sender", from)
		return reply, nil
	}
	return reply, err
}

// OnMessage handles an inbound message and sends the reply back to the sender.
func (g *Gateway) OnMessage(ctx context.Context, msg domain.InboundMessage) error {
	reply, err := g.Handle(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil
		}
		g.logger.Error("inbound message failed", "sender", msg.From, "channel", msg.Channel, "error", err)
		return err
	}
	if reply == "" {
		return nil
	}
	// Send failures are logged by the sender.
	_ = g.sender.Send(ctx, NormalizeSender(msg.From), reply)
	return nil
}

// OnTelegram adapts OnMessage to the Telegram poller.
func (g *Gateway) OnTelegram(ctx context.Context, from, text string) {
	_ = g.OnMessage(ctx, domain.InboundMessage{From: from, Text: text, Channel: "telegram"})
}

// BrokerHandlers returns RabbitMQ handlers for messages published by external gateways. A
// malformed body is acked and dropped; a handling failure is requeued.
func (g *Gateway) BrokerHandlers(ctx context.Context) map[string]rabbitmq.MessageHandler {
	handler := func(channel string) rabbitmq.MessageHandler {
		return func(body []byte) bool {
			var msg domain.InboundMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				g.logger.Error("dropping malformed inbound message", "channel", channel, "error", err)
				return true
			}
			if msg.Channel == "" {
				msg.Channel = channel
			}
			return g.OnMessage(ctx, msg) == nil
		}
	}
	return map[string]rabbitmq.MessageHandler{
		RoutingKeyInboundWhatsApp: handler("whatsapp"),
		RoutingKeyInboundSMS:      handler("sms"),
	}
}
