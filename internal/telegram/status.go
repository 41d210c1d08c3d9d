package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// statusMessage is the single message a turn edits to show progress.
type statusMessage struct {
	bot       *Bot
	chatID    int64
	messageID int
	last      string
}

func (b *Bot) openStatus(chatID int64, text string) (*statusMessage, error) {
	sent, err := b.send(chatID, text)
	if err != nil {
		return nil, err
	}
	return &statusMessage{bot: b, chatID: chatID, messageID: sent.MessageID, last: text}, nil
}

// Update edits the status when the edit rate allows it.
func (s *statusMessage) Update(text string) {
	if !s.bot.limiter.Allow() {
		return
	}
	s.Set(text)
}

// Set edits the status regardless of the edit rate.
func (s *statusMessage) Set(text string) {
	if text == s.last {
		return
	}
	edit := tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)
	if _, err := s.bot.api.Send(edit); err != nil {
		// Telegram rejects edits that leave the text unchanged.
		if !strings.Contains(err.Error(), "message is not modified") {
			s.bot.logger.Warn().Err(err).Int("message_id", s.messageID).Msg("Failed to edit status message")
		}
		return
	}
	s.last = text
}
