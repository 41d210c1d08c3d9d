package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/pkg/channels"
	"github.com/harun/tandem/pkg/session"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChannelID identifies the Telegram channel in the registry.
const ChannelID = "telegram"

// Options configures a Bot.
type Options struct {
	Config config.TelegramConfig
	Handle *session.Handle
	Logger zerolog.Logger
	// MediaDir receives downloaded voice notes. Empty disables voice handling.
	MediaDir   string
	HTTPClient *http.Client
	// AfterTurn runs after every turn that reached a terminal event.
	AfterTurn func(ctx context.Context, sess *session.Session)
}

// Bot is the Telegram channel.
type Bot struct {
	api      API
	handle   *session.Handle
	logger   zerolog.Logger
	chatID   int64
	limiter  *rate.Limiter
	media    *Media
	commands *Commands
	after    func(ctx context.Context, sess *session.Session)

	mu       sync.Mutex
	running  bool
	inflight *channels.Inflight
	pollDone chan struct{}
}

// New creates the channel. The authorized chat id must be numeric.
func New(api API, opts Options) (*Bot, error) {
	if api == nil {
		return nil, fmt.Errorf("telegram api is required")
	}
	if opts.Handle == nil {
		return nil, fmt.Errorf("session handle is required")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(opts.Config.AuthorizedChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid authorized chat id %q: %w", opts.Config.AuthorizedChatID, err)
	}

	interval := time.Duration(opts.Config.EditIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	b := &Bot{
		api:     api,
		handle:  opts.Handle,
		logger:  opts.Logger.With().Str("component", "telegram").Logger(),
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		after:   opts.AfterTurn,
	}
	if opts.MediaDir != "" {
		b.media = NewMedia(api, opts.MediaDir, opts.HTTPClient, b.logger)
	}
	b.commands = b.defaultCommands()
	return b, nil
}

// ID implements channels.Channel
func (b *Bot) ID() string { return ChannelID }

// Owner is the question-slot owner id for the authorized chat.
func (b *Bot) Owner() string {
	return fmt.Sprintf("telegram:%d", b.chatID)
}

// Start begins long polling.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bot is already running")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.inflight = channels.NewInflight(context.WithoutCancel(ctx))
	b.pollDone = make(chan struct{})
	b.running = true

	go b.poll(b.inflight.Context(), updates, b.pollDone)

	b.logger.Info().Int64("chat_id", b.chatID).Msg("Telegram bot started")
	return nil
}

// Stop cancels polling and waits for in-flight handlers.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	inflight, pollDone := b.inflight, b.pollDone
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	if err := inflight.Stop(ctx); err != nil {
		return fmt.Errorf("waiting for telegram handlers: %w", err)
	}

	select {
	case <-pollDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

func (b *Bot) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to handle update")
			}
		}
	}
}

func (b *Bot) send(chatID int64, text string) (tgbotapi.Message, error) {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return sent, fmt.Errorf("failed to send message: %w", err)
	}
	observability.RecordChannelMessage(ChannelID, "outbound")
	return sent, nil
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.send(chatID, text); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Reply failed")
	}
}
