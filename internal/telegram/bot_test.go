package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/pkg/llm"
	"github.com/harun/tandem/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChatID int64 = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	nextID   int
	fileURL  string
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("no file")
	}
	return f.fileURL + "/" + fileID, nil
}

// texts returns the text of every sent message and edit, in order.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) keyboard() (tgbotapi.InlineKeyboardMarkup, bool) {
	for _, m := range f.messages() {
		if kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
			return kb, true
		}
	}
	return tgbotapi.InlineKeyboardMarkup{}, false
}

func (f *fakeAPI) callbackAnswers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

func (f *fakeAPI) hasText(substr string) bool {
	for _, text := range f.texts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

type step func(ctx context.Context, req llm.Request) (*llm.Response, error)

type scriptedProvider struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request, _ llm.DeltaFunc) (*llm.Response, error) {
	p.mu.Lock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	s := p.steps[i]
	p.mu.Unlock()
	return s(ctx, req)
}

func (p *scriptedProvider) ListModels(context.Context) ([]string, error) { return nil, nil }
func (p *scriptedProvider) Close() error                                 { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func reply(content string) step {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: content}, nil
	}
}

func toolCall(name string, args map[string]interface{}) step {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Arguments: args}}}, nil
	}
}

// echoLastTool replies with the content of the last tool message.
func echoLastTool() step {
	return func(_ context.Context, req llm.Request) (*llm.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		return &llm.Response{Content: "you said " + last.Content}, nil
	}
}

type harness struct {
	bot      *Bot
	api      *fakeAPI
	sess     *session.Session
	provider *scriptedProvider
	turns    chan struct{}
}

func newHarness(t *testing.T, steps ...step) *harness {
	t.Helper()
	provider := &scriptedProvider{steps: steps}

	cfg := config.DefaultConfig()
	cfg.Cwd = t.TempDir()
	sess := session.New(session.Options{
		Config: cfg,
		ProviderFactory: func(config.ModelConfig) (llm.Provider, error) {
			return provider, nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, sess.Initialize(context.Background()))
	t.Cleanup(func() { _ = sess.Shutdown(context.Background()) })

	h := &harness{api: newFakeAPI(), sess: sess, provider: provider, turns: make(chan struct{}, 8)}
	bot, err := New(h.api, Options{
		Config:   config.TelegramConfig{BotToken: "token", AuthorizedChatID: "42", EditIntervalMs: 1},
		Handle:   session.NewHandle(sess),
		Logger:   zerolog.Nop(),
		MediaDir: t.TempDir(),
		AfterTurn: func(context.Context, *session.Session) {
			h.turns <- struct{}{}
		},
	})
	require.NoError(t, err)
	require.NoError(t, bot.Start(context.Background()))
	t.Cleanup(func() { _ = bot.Stop(context.Background()) })
	h.bot = bot
	return h
}

func (h *harness) push(u tgbotapi.Update) { h.api.updates <- u }

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func commandUpdate(chatID int64, command string) tgbotapi.Update {
	u := textUpdate(chatID, command)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	return u
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 99,
			Chat:      &tgbotapi.Chat{ID: testChatID},
			Text:      "⚠️ Approval required",
		},
	}}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestNew(t *testing.T) {
	sess := session.New(session.Options{Config: config.DefaultConfig(), Logger: zerolog.Nop()})

	t.Run("should reject a non-numeric chat id", func(t *testing.T) {
		_, err := New(newFakeAPI(), Options{
			Config: config.TelegramConfig{AuthorizedChatID: "abc"},
			Handle: session.NewHandle(sess),
		})
		assert.Error(t, err)
	})

	t.Run("should require a session handle", func(t *testing.T) {
		_, err := New(newFakeAPI(), Options{Config: config.TelegramConfig{AuthorizedChatID: "1"}})
		assert.Error(t, err)
	})

	t.Run("should report its channel id and owner", func(t *testing.T) {
		bot, err := New(newFakeAPI(), Options{
			Config: config.TelegramConfig{AuthorizedChatID: "-100"},
			Handle: session.NewHandle(sess),
		})
		require.NoError(t, err)
		assert.Equal(t, "telegram", bot.ID())
		assert.Equal(t, "telegram:-100", bot.Owner())
	})
}

func TestBotLifecycle(t *testing.T) {
	t.Run("should refuse a second start", func(t *testing.T) {
		h := newHarness(t, reply("ok"))
		assert.Error(t, h.bot.Start(context.Background()))
	})

	t.Run("should stop receiving updates on stop", func(t *testing.T) {
		h := newHarness(t, reply("ok"))
		require.NoError(t, h.bot.Stop(context.Background()))
		assert.True(t, h.api.isStopped())
		assert.NoError(t, h.bot.Stop(context.Background()))
	})
}

func TestBotMessages(t *testing.T) {
	t.Run("should drop messages from unauthorized chats", func(t *testing.T) {
		h := newHarness(t, reply("ok"))

		h.push(textUpdate(7, "hello"))
		h.push(commandUpdate(testChatID, "/start"))

		require.Eventually(t, func() bool { return h.api.hasText("Connected") }, waitFor, tick)
		assert.Len(t, h.api.texts(), 1)
		assert.Zero(t, h.provider.callCount())
	})

	t.Run("should report model and working directory on start", func(t *testing.T) {
		h := newHarness(t, reply("ok"))

		h.push(commandUpdate(testChatID, "/start"))

		require.Eventually(t, func() bool { return h.api.hasText("Connected") }, waitFor, tick)
		text := h.api.texts()[0]
		assert.Contains(t, text, "gpt-4o-mini")
		assert.Contains(t, text, h.sess.Settings().WorkingDir)
	})

	t.Run("should answer unknown commands", func(t *testing.T) {
		h := newHarness(t, reply("ok"))

		h.push(commandUpdate(testChatID, "/nope"))

		require.Eventually(t, func() bool { return h.api.hasText("Unknown command: /nope") }, waitFor, tick)
	})

	t.Run("should clear the conversation", func(t *testing.T) {
		h := newHarness(t, reply("ok"))
		h.sess.Context().AddUserMessage("old")

		h.push(commandUpdate(testChatID, "/clear"))

		require.Eventually(t, func() bool { return h.api.hasText("cleared") }, waitFor, tick)
		assert.Equal(t, 1, h.sess.Context().Len())
	})

	t.Run("should clear only after the running turn ends", func(t *testing.T) {
		h := newHarness(t, reply("ok"))

		started := make(chan struct{})
		release := make(chan struct{})
		turnDone := make(chan error, 1)
		go func() {
			turnDone <- h.sess.RunTurn(context.Background(), func(context.Context) error {
				h.sess.BeginTurn("from the terminal")
				close(started)
				<-release
				return nil
			}, nil)
		}()
		<-started

		h.push(commandUpdate(testChatID, "/clear"))
		h.push(commandUpdate(testChatID, "/nope"))
		require.Eventually(t, func() bool { return h.api.hasText("Unknown command: /nope") }, waitFor, tick)
		assert.False(t, h.api.hasText("cleared"))
		assert.Equal(t, 2, h.sess.Context().Len())

		close(release)
		require.NoError(t, <-turnDone)
		require.Eventually(t, func() bool { return h.api.hasText("cleared") }, waitFor, tick)
		assert.Equal(t, 1, h.sess.Context().Len())
	})

	t.Run("should stream a turn into the status message", func(t *testing.T) {
		h := newHarness(t,
			toolCall("list_dir", map[string]interface{}{"path": "."}),
			reply("all done"),
		)

		h.push(textUpdate(testChatID, "look around"))

		select {
		case <-h.turns:
		case <-time.After(waitFor):
			t.Fatal("turn did not finish")
		}
		texts := h.api.texts()
		require.NotEmpty(t, texts)
		assert.Equal(t, statusThinking, texts[0])
		assert.Contains(t, texts, "✅ Tool finished: list_dir")
		assert.Equal(t, "all done", texts[len(texts)-1])
		assert.Equal(t, 1, h.sess.TurnCount())
	})

	t.Run("should send long responses in chunks", func(t *testing.T) {
		long := strings.Repeat("a", 9000)
		h := newHarness(t, reply(long))

		h.push(textUpdate(testChatID, "write a lot"))

		<-h.turns
		var lengths []int
		for _, m := range h.api.messages()[1:] {
			lengths = append(lengths, len(m.Text))
		}
		assert.Equal(t, []int{4000, 4000, 1000}, lengths)
	})

	t.Run("should route the next message to a pending question", func(t *testing.T) {
		h := newHarness(t,
			toolCall("ask_user", map[string]interface{}{"question": "favourite colour?"}),
			echoLastTool(),
		)

		h.push(textUpdate(testChatID, "ask me"))
		require.Eventually(t, func() bool { return h.api.hasText("🤖 Agent asks: favourite colour?") }, waitFor, tick)

		h.push(textUpdate(testChatID, "blue"))

		<-h.turns
		assert.True(t, h.api.hasText("you said blue"))
		assert.Equal(t, 1, h.sess.TurnCount())
	})

	t.Run("should report cancellation when stopped mid-turn", func(t *testing.T) {
		started := make(chan struct{})
		h := newHarness(t, func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

		h.push(textUpdate(testChatID, "hang"))
		<-started

		require.NoError(t, h.bot.Stop(context.Background()))
		assert.True(t, h.api.hasText("❌ Agent error: turn cancelled"))
	})
}

func TestBotConfirmation(t *testing.T) {
	writeSteps := func() []step {
		return []step{
			toolCall("write_file", map[string]interface{}{"path": "out.txt", "content": "hi"}),
			reply("finished"),
		}
	}

	t.Run("should run the tool after approval", func(t *testing.T) {
		h := newHarness(t, writeSteps()...)

		h.push(textUpdate(testChatID, "write it"))

		var kb tgbotapi.InlineKeyboardMarkup
		require.Eventually(t, func() bool {
			var ok bool
			kb, ok = h.api.keyboard()
			return ok
		}, waitFor, tick)
		require.Len(t, kb.InlineKeyboard[0], 2)
		h.push(callbackUpdate(*kb.InlineKeyboard[0][0].CallbackData))

		<-h.turns
		data, err := os.ReadFile(filepath.Join(h.sess.Settings().WorkingDir, "out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
		assert.Contains(t, h.api.callbackAnswers(), "✅ Approved")
		assert.Nil(t, h.sess.PendingQuestion())
	})

	t.Run("should reject the tool after denial", func(t *testing.T) {
		h := newHarness(t, writeSteps()...)

		h.push(textUpdate(testChatID, "write it"))

		var kb tgbotapi.InlineKeyboardMarkup
		require.Eventually(t, func() bool {
			var ok bool
			kb, ok = h.api.keyboard()
			return ok
		}, waitFor, tick)
		h.push(callbackUpdate(*kb.InlineKeyboard[0][1].CallbackData))

		<-h.turns
		assert.NoFileExists(t, filepath.Join(h.sess.Settings().WorkingDir, "out.txt"))
		assert.Contains(t, h.api.texts(), "❌ Tool finished: write_file")
		assert.Contains(t, h.api.callbackAnswers(), "❌ Denied")
	})

	t.Run("should accept a typed answer to the keyboard prompt", func(t *testing.T) {
		h := newHarness(t, writeSteps()...)

		h.push(textUpdate(testChatID, "write it"))
		require.Eventually(t, func() bool {
			_, ok := h.api.keyboard()
			return ok
		}, waitFor, tick)
		h.push(textUpdate(testChatID, "yes"))

		<-h.turns
		assert.FileExists(t, filepath.Join(h.sess.Settings().WorkingDir, "out.txt"))
	})

	t.Run("should answer stale callbacks without resolving anything", func(t *testing.T) {
		h := newHarness(t, reply("ok"))

		h.push(callbackUpdate("approve:missing"))

		require.Eventually(t, func() bool {
			answers := h.api.callbackAnswers()
			return len(answers) == 1 && strings.Contains(answers[0], "no longer pending")
		}, waitFor, tick)
	})
}
