/**
 * @description
 * Package telegram connects Sakhi to the Telegram Bot API. Members registered with a
 * "TG_<user id>" channel identifier talk to the state machine through this client.
 *
 * @notes
 * - Only private chats are handled; group chats are ignored like WhatsApp groups.
 * - Updates are received by long polling.
 *
 * @dependencies
 * - github.com/go-telegram-bot-api/telegram-bot-api/v5
 */
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Kundhave/Sakhi/pkg/messaging"
)

// InboundHandler receives one private text message. from is the member channel identifier.
type InboundHandler func(ctx context.Context, from, text string)

// Client wraps the bot API for sending and polling.
type Client struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewClient authenticates the bot token against the Telegram API.
func NewClient(token string, logger *slog.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	api.Debug = false
	return &Client{api: api, logger: logger}, nil
}

// ChannelID returns the member channel identifier for a Telegram user.
func ChannelID(userID int64) string {
	return messaging.TelegramPrefix + strconv.FormatInt(userID, 10)
}

// ChatID extracts the Telegram chat id from a "TG_<id>" channel identifier.
func ChatID(channelID string) (int64, error) {
	raw, ok := strings.CutPrefix(channelID, messaging.TelegramPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram address: %q", channelID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q: %w", raw, err)
	}
	return id, nil
}

// Send delivers text to a "TG_<id>" address.
func (c *Client) Send(ctx context.Context, to, text string) error {
	chatID, err := ChatID(to)
	if err != nil {
		return err
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Run polls for updates until ctx is cancelled and hands private text messages to handle.
func (c *Client) Run(ctx context.Context, handle InboundHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()

	c.logger.Info("telegram polling started", "bot", c.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("telegram polling stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if from, text, ok := privateText(upd); ok {
				handle(ctx, from, text)
			}
		}
	}
}

// privateText extracts the sender and text of a private chat message.
func privateText(upd tgbotapi.Update) (string, string, bool) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return "", "", false
	}
	text := strings.TrimSpace(msg.Text)
	// /start opens the menu like an empty WhatsApp message would.
	if strings.HasPrefix(text, "/start") {
		text = ""
	}
	return ChannelID(msg.From.ID), text, true
}
