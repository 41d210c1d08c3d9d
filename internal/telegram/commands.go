package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tandem/pkg/turnqueue"
)

// CommandFunc handles one bot command. It returns the reply text, or "" when
// the handler replies on its own.
type CommandFunc func(msg *tgbotapi.Message) string

// Commands maps bot commands to handlers.
type Commands struct {
	handlers map[string]CommandFunc
	help     map[string]string
}

// NewCommands creates an empty command table.
func NewCommands() *Commands {
	return &Commands{
		handlers: make(map[string]CommandFunc),
		help:     make(map[string]string),
	}
}

// Register adds a command. name is given without the slash.
func (c *Commands) Register(name, help string, fn CommandFunc) {
	c.handlers[name] = fn
	c.help[name] = help
}

// Handle runs the command in msg.
func (c *Commands) Handle(msg *tgbotapi.Message) string {
	fn, ok := c.handlers[msg.Command()]
	if !ok {
		return fmt.Sprintf("Unknown command: /%s. Try /help.", msg.Command())
	}
	return fn(msg)
}

// Help lists the registered commands.
func (c *Commands) Help() string {
	names := make([]string, 0, len(c.help))
	for name := range c.help {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "/%s - %s\n", name, c.help[name])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) defaultCommands() *Commands {
	cmds := NewCommands()

	cmds.Register("start", "Show connection status", func(*tgbotapi.Message) string {
		settings := b.handle.Current().Settings()
		return fmt.Sprintf("✅ Connected.\nModel: %s\nWorking directory: %s", settings.Model, settings.WorkingDir)
	})
	cmds.Register("clear", "Clear the conversation", func(msg *tgbotapi.Message) string {
		// Clearing waits for the running turn, which may need this chat's
		// next update, so it must not block the poll loop.
		chatID := msg.Chat.ID
		b.inflight.Go(func(ctx context.Context) {
			err := b.handle.Current().Clear(ctx)
			switch {
			case errors.Is(err, turnqueue.ErrBusy):
				b.reply(chatID, "⏳ A turn is in progress. Try /clear again when it finishes.")
			case err != nil:
				b.logger.Warn().Err(err).Msg("Failed to clear conversation")
				b.reply(chatID, "❌ Could not clear the conversation: "+err.Error())
			default:
				b.reply(chatID, "🧹 Conversation cleared.")
			}
		})
		return ""
	})
	cmds.Register("stats", "Show session statistics", func(*tgbotapi.Message) string {
		st := b.handle.Current().Stats()
		return fmt.Sprintf("Session: %s\nTurns: %d\nMessages: %d\nTokens: %d in / %d out (~%d in context)\nTools: %d\nMCP servers: %d\nModel: %s",
			st.SessionID, st.Turns, st.Messages,
			st.Usage.InputTokens, st.Usage.OutputTokens, st.EstimatedTokens,
			st.Tools, st.MCPServers, st.Model)
	})
	cmds.Register("help", "List commands", func(*tgbotapi.Message) string {
		return cmds.Help()
	})

	return cmds
}
