package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tandem/pkg/session"
	"github.com/harun/tandem/pkg/tools"
)

const (
	callbackApprove = "approve"
	callbackDeny    = "deny"
)

// keyboardConfirmer asks for tool approval with an inline keyboard. The
// question slot carries the decision, so a typed "y" works as well.
type keyboardConfirmer struct {
	bot    *Bot
	sess   *session.Session
	chatID int64
	owner  string
}

// Confirm implements tools.Confirmer
func (c *keyboardConfirmer) Confirm(ctx context.Context, req tools.ConfirmationRequest) (tools.ConfirmationResponse, error) {
	q, err := c.sess.OpenQuestion(c.owner, session.ConfirmPrompt(req))
	if err != nil {
		return tools.ConfirmationResponse{}, err
	}

	text := "⚠️ Approval required\n" + req.Summary()
	if req.Reason != "" {
		text += "\n" + req.Reason
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackApprove+":"+q.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", callbackDeny+":"+q.ID),
		),
	)
	if _, err := c.bot.api.Send(msg); err != nil {
		_ = q.Fail(fmt.Errorf("failed to deliver confirmation: %w", err))
	}

	answer, err := q.Wait(ctx)
	if err != nil {
		return tools.ConfirmationResponse{}, err
	}
	if session.IsAffirmative(answer) {
		return tools.ConfirmationResponse{Approved: true, Reason: "approved by " + c.owner}, nil
	}
	return tools.ConfirmationResponse{Approved: false, Reason: "denied"}, nil
}

// handleCallback resolves a confirmation from a keyboard press.
func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) error {
	if cb.Message == nil || cb.Message.Chat == nil || !b.authorized(cb.Message.Chat.ID) {
		b.rejectUnauthorized(cb.Message, "callback")
		return nil
	}

	action, questionID, ok := strings.Cut(cb.Data, ":")
	if !ok || (action != callbackApprove && action != callbackDeny) {
		return fmt.Errorf("unexpected callback data %q", cb.Data)
	}

	notice := "This request is no longer pending."
	sess := b.handle.Current()
	if q := sess.PendingQuestion(); q != nil && q.ID == questionID {
		answer, label := "no", "❌ Denied"
		if action == callbackApprove {
			answer, label = "yes", "✅ Approved"
		}
		if sess.AnswerQuestion(b.Owner(), answer) {
			notice = label
			edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text+"\n\n"+label)
			if _, err := b.api.Send(edit); err != nil {
				b.logger.Warn().Err(err).Msg("Failed to mark confirmation")
			}
		}
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, notice)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}
