/**
 * @description
 * Package messaging defines how Sakhi delivers text to a member or leader address.
 * Delivery is best effort: senders log failures and never return them, so a broken
 * transport can not abort a state transition or an eligibility run.
 *
 * @dependencies
 * - pkg/rabbitmq: outbound messages for external chat gateways are published on the broker.
 */
package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Kundhave/Sakhi/pkg/rabbitmq"
)

// TelegramPrefix marks channel identifiers that belong to Telegram users.
const TelegramPrefix = "TG_"

// RoutingKeyOutbound is the routing key external gateways consume to deliver a message.
const RoutingKeyOutbound = "chat.outbound"

// Sender delivers a text message to an address.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// LogSender only logs messages. It is used when no transport is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to, text string) error {
	s.Logger.Info("outbound message (log only)", "to", to, "chars", len(text))
	return nil
}

// Outbound is the JSON payload published for external gateways.
type Outbound struct {
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// BrokerSender publishes outbound messages on the events exchange for a gateway to deliver.
type BrokerSender struct {
	Publisher rabbitmq.Publisher
	Exchange  string
}

func (s BrokerSender) Send(ctx context.Context, to, text string) error {
	return s.Publisher.Publish(ctx, s.Exchange, RoutingKeyOutbound, Outbound{To: to, Text: text, Timestamp: time.Now().UTC()})
}

// Router picks a transport by address and swallows delivery errors after logging them.
type Router struct {
	telegram Sender
	gateway  Sender
	logger   *slog.Logger
}

// NewRouter returns a Router. A nil telegram or gateway sender falls back to logging.
func NewRouter(telegram, gateway Sender, logger *slog.Logger) *Router {
	fallback := LogSender{Logger: logger}
	if telegram == nil {
		telegram = fallback
	}
	if gateway == nil {
		gateway = fallback
	}
	return &Router{telegram: telegram, gateway: gateway, logger: logger}
}

// Send delivers text to the address. Failures are logged, never returned.
func (r *Router) Send(ctx context.Context, to, text string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		r.logger.Warn("outbound message dropped: empty address")
		return nil
	}

	sender, transport := r.gateway, "gateway"
	if strings.HasPrefix(to, TelegramPrefix) {
		sender, transport = r.telegram, "telegram"
	}
	if err := sender.Send(ctx, to, text); err != nil {
		r.logger.Error("outbound message failed", "transport", transport, "to", to, "error", err)
	}
	return nil
}
