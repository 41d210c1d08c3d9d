package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestCommands(t *testing.T) {
	cmds := NewCommands()
	cmds.Register("ping", "Reply with pong", func(*tgbotapi.Message) string { return "pong" })

	t.Run("should dispatch registered commands", func(t *testing.T) {
		msg := commandUpdate(testChatID, "/ping").Message
		assert.Equal(t, "pong", cmds.Handle(msg))
	})

	t.Run("should list commands in help", func(t *testing.T) {
		assert.Contains(t, cmds.Help(), "/ping - Reply with pong")
	})
}
