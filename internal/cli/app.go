package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/agent"
	"github.com/harun/tandem/pkg/persistence"
	"github.com/harun/tandem/pkg/session"
	"github.com/rs/zerolog"
)

// ChannelID owns questions asked through the terminal.
const ChannelID = "cli"

// AppOptions configures an App.
type AppOptions struct {
	Config   *config.Config
	Renderer *Renderer
	Logger   zerolog.Logger
	// Store overrides the store selected by Config.Storage.
	Store persistence.Store
	// ProviderFactory overrides the model provider, mainly for tests.
	ProviderFactory session.ProviderFactory
}

// App owns the live session and everything the terminal needs around it.
type App struct {
	cfg    *config.Config
	render *Renderer
	logger zerolog.Logger
	store  persistence.Store
	handle *session.Handle
	opts   session.Options

	mu    sync.Mutex
	agent *agent.Agent
	// active counts turns started from this terminal that have not ended.
	active atomic.Int32
}

// NewApp creates and initializes the first session.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}

	a := &App{
		cfg:    opts.Config,
		render: opts.Renderer,
		logger: opts.Logger.With().Str("component", "cli").Logger(),
		store:  opts.Store,
		opts: session.Options{
			Config:          opts.Config,
			ProviderFactory: opts.ProviderFactory,
			Logger:          opts.Logger,
		},
	}

	if a.store == nil {
		store, err := persistence.Open(opts.Config, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
	}

	sess := session.New(a.opts)
	if err := sess.Initialize(ctx); err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	a.handle = session.NewHandle(sess)
	return a, nil
}

// Handle is the shared session slot.
func (a *App) Handle() *session.Handle { return a.handle }

// Session is the current session.
func (a *App) Session() *session.Session { return a.handle.Current() }

// Store is the snapshot store.
func (a *App) Store() persistence.Store { return a.store }

// Agent returns the agent bound to the current session, replacing it after
// a resume or restore.
func (a *App) Agent() *agent.Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess := a.handle.Current()
	if a.agent == nil || a.agent.Session() != sess {
		a.agent = agent.New(sess, agent.WithLogger(a.logger))
	}
	return a.agent
}

func (a *App) deliver(_ context.Context, q *session.PendingQuestion) error {
	a.render.Question(q.Question)
	return nil
}

// Answer hands a line of input to a pending terminal question.
func (a *App) Answer(line string) bool {
	return a.Session().AnswerQuestion(ChannelID, line)
}

// RunTurn runs one turn and renders its events. It returns the final text.
func (a *App) RunTurn(ctx context.Context, message string) (string, error) {
	a.active.Add(1)
	defer a.active.Add(-1)

	ag := a.Agent()
	sess := ag.Session()
	ctx = tracing.WithChannel(ctx, ChannelID)
	ctx = tracing.WithSessionID(ctx, sess.ID())

	events := ag.Run(ctx, message,
		agent.WithChannel(ChannelID),
		agent.WithAskUser(&session.SlotResponder{Session: sess, Channel: ChannelID, Deliver: a.deliver}),
		agent.WithConfirmer(&session.SlotConfirmer{Session: sess, Channel: ChannelID, Deliver: a.deliver}),
		agent.WithOnWait(func(position int) {
			a.render.Dim("Waiting for %d turn(s) to finish...", position)
		}),
	)

	var final string
	var turnErr error
	for ev := range events {
		a.render.Render(ev)
		switch ev.Type {
		case agent.EventTextComplete:
			final = ev.Content
		case agent.EventAgentError:
			turnErr = errors.New(ev.Error)
		}
	}

	a.Autosave(context.WithoutCancel(ctx), sess)
	return final, turnErr
}

// Busy reports whether a turn started from this terminal is still running.
func (a *App) Busy() bool { return a.active.Load() > 0 }

// Autosave saves sess when autosave is on.
func (a *App) Autosave(ctx context.Context, sess *session.Session) {
	a.mu.Lock()
	enabled := a.cfg.Autosave
	a.mu.Unlock()
	if !enabled {
		return
	}
	if err := a.store.Save(ctx, sess.Snapshot()); err != nil {
		a.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("Autosave failed")
	}
}

// ApplyConfig hands a reloaded config to the current session.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg.Autosave = cfg.Autosave
	a.mu.Unlock()
	a.Session().ApplyConfig(cfg)
}

// Resume replaces the current session with a stored one.
func (a *App) Resume(ctx context.Context, id string) (*session.Session, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, err
	}
	snap, err := a.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.swapTo(ctx, snap)
}

// RestoreCheckpoint replaces the current session with a checkpoint.
func (a *App) RestoreCheckpoint(ctx context.Context, id string) (*session.Session, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, err
	}
	snap, err := a.store.LoadCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.swapTo(ctx, snap)
}

func (a *App) swapTo(ctx context.Context, snap *session.Snapshot) (*session.Session, error) {
	old := a.Session()
	next, err := session.Restore(ctx, snap, a.opts)
	if err != nil {
		return nil, err
	}

	// Runtime changes made with /model and /approval survive the swap.
	settings := old.Settings()
	next.SetModel(settings.Model)
	next.SetApproval(settings.Approval)

	if err := a.handle.Swap(ctx, next); err != nil {
		a.logger.Warn().Err(err).Str("session_id", old.ID()).Msg("Previous session did not shut down cleanly")
	}
	return next, nil
}

// Close shuts down the session and the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.handle.Shutdown(ctx), a.store.Close())
}
