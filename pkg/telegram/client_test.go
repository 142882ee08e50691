package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelIDRoundTrip(t *testing.T) {
	id := ChannelID(987654321)
	assert.Equal(t, "TG_987654321", id)

	chatID, err := ChatID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(987654321), chatID)

	_, err = ChatID("919876543210")
	assert.Error(t, err)
	_, err = ChatID("TG_abc")
	assert.Error(t, err)
}

func TestPrivateTextIgnoresGroupChats(t *testing.T) {
	private := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
		Text: " 500 ",
	}}
	from, text, ok := privateText(private)
	require.True(t, ok)
	assert.Equal(t, "TG_42", from)
	assert.Equal(t, "500", text)

	group := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: -100, Type: "group"},
		Text: "1",
	}}
	_, _, ok = privateText(group)
	assert.False(t, ok)

	_, _, ok = privateText(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestPrivateTextTreatsStartAsEmpty(t *testing.T) {
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 7},
		Chat: &tgbotapi.Chat{ID: 7, Type: "private"},
		Text: "/start",
	}}
	_, text, ok := privateText(upd)
	require.True(t, ok)
	assert.Equal(t, "", text)
}
