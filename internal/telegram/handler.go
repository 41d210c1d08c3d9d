package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/agent"
	"github.com/harun/tandem/pkg/channels"
	"github.com/harun/tandem/pkg/session"
)

const (
	statusThinking = "🤔 Thinking..."
	statusBusy     = "⏳ Another turn is running, your message is queued."
)

func (b *Bot) authorized(chatID int64) bool {
	return chatID == b.chatID
}

func (b *Bot) rejectUnauthorized(msg *tgbotapi.Message, kind string) {
	actor := "unknown"
	if msg != nil && msg.Chat != nil {
		actor = strconv.FormatInt(msg.Chat.ID, 10)
	}
	b.logger.Warn().Str("chat_id", actor).Str("kind", kind).Msg("Dropped update from unauthorized chat")
	observability.RecordSecurityAudit(context.Background(), "telegram_"+kind, actor, "denied", nil)
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return b.handleCallback(update.CallbackQuery)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	if !b.authorized(msg.Chat.ID) {
		b.rejectUnauthorized(msg, "message")
		return nil
	}
	observability.RecordChannelMessage(ChannelID, "inbound")

	if msg.IsCommand() {
		if text := b.commands.Handle(msg); text != "" {
			b.reply(msg.Chat.ID, text)
		}
		return nil
	}

	// A reply to an open question never starts a turn.
	if msg.Text != "" && b.handle.Current().AnswerQuestion(b.Owner(), msg.Text) {
		return nil
	}

	switch {
	case msg.Voice != nil || msg.Audio != nil:
		b.inflight.Go(func(ctx context.Context) { b.handleMedia(ctx, msg) })
	case msg.Text != "":
		chatID, text := msg.Chat.ID, msg.Text
		b.inflight.Go(func(ctx context.Context) { b.runTurn(ctx, chatID, text) })
	}
	return nil
}

func (b *Bot) handleMedia(ctx context.Context, msg *tgbotapi.Message) {
	if b.media == nil {
		b.reply(msg.Chat.ID, "Voice messages are not supported here.")
		return
	}

	var fileID, name string
	if msg.Voice != nil {
		fileID, name = msg.Voice.FileID, "voice.ogg"
	} else {
		fileID, name = msg.Audio.FileID, msg.Audio.FileName
	}

	path, err := b.media.Download(ctx, fileID, name)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to download media")
		b.reply(msg.Chat.ID, "❌ Could not download the audio: "+err.Error())
		return
	}

	prompt := fmt.Sprintf("The user sent a voice message saved at %s. Transcribe it with the transcribe_audio tool and respond to what it says.", path)
	if msg.Caption != "" {
		prompt += "\nCaption: " + msg.Caption
	}
	b.runTurn(ctx, msg.Chat.ID, prompt)
}

// runTurn streams one agent turn into a status message.
func (b *Bot) runTurn(ctx context.Context, chatID int64, text string) {
	sess := b.handle.Current()
	owner := b.Owner()
	ctx = tracing.WithChannel(ctx, ChannelID)
	ctx = tracing.WithSessionID(ctx, sess.ID())

	status, err := b.openStatus(chatID, statusThinking)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to open status message")
		return
	}

	responder := &session.SlotResponder{
		Session: sess,
		Channel: owner,
		Deliver: func(ctx context.Context, q *session.PendingQuestion) error {
			_, err := b.send(chatID, "🤖 Agent asks: "+q.Question)
			return err
		},
	}
	confirmer := &keyboardConfirmer{bot: b, sess: sess, chatID: chatID, owner: owner}

	a := agent.New(sess, agent.WithLogger(b.logger))
	events := a.Run(ctx, text,
		agent.WithChannel(owner),
		agent.WithAskUser(responder),
		agent.WithConfirmer(confirmer),
		agent.WithOnWait(func(int) { status.Set(statusBusy) }),
	)

	var final string
	var terminal bool
	for ev := range events {
		switch ev.Type {
		case agent.EventToolCallStart:
			status.Update("🔧 Running tool: " + ev.Name)
		case agent.EventToolCallComplete:
			icon := "✅"
			if !ev.Success {
				icon = "❌"
			}
			b.reply(chatID, fmt.Sprintf("%s Tool finished: %s", icon, ev.Name))
			status.Update(statusThinking)
		case agent.EventAgentError:
			terminal = true
			status.Set("❌ Agent error: " + ev.Error)
		case agent.EventTextComplete:
			terminal = true
			final = ev.Content
		}
	}

	if final != "" {
		b.deliver(status, final)
	} else if terminal && status.last == statusThinking {
		status.Set("✅ Done.")
	}

	if terminal && b.after != nil {
		b.after(context.WithoutCancel(ctx), sess)
	}
}

// deliver edits short answers into the status message and sends long ones
// as consecutive chunks.
func (b *Bot) deliver(status *statusMessage, text string) {
	chunks := channels.Chunk(text, channels.TelegramLimit)
	if len(chunks) == 1 {
		status.Set(chunks[0])
		return
	}
	status.Set("📨 Response follows in parts.")
	for _, chunk := range chunks {
		if _, err := b.send(status.chatID, chunk); err != nil {
			b.logger.Error().Err(err).Msg("Failed to send response chunk")
			return
		}
	}
}
