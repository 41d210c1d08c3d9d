package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/hooks"
	"github.com/harun/tandem/pkg/llm"
	"github.com/harun/tandem/pkg/mcp"
	"github.com/harun/tandem/pkg/tools"
	"github.com/harun/tandem/pkg/tools/builtin"
	"github.com/harun/tandem/pkg/turnqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSystemPrompt is used when the config does not set one.
const DefaultSystemPrompt = "You are tandem, an AI assistant that completes tasks on the user's machine. " +
	"Use the available tools to inspect and change files, run commands and fetch web pages. " +
	"Ask the user when a decision is theirs to make. Keep answers concise."

// ErrNotInitialized is returned by operations that need Initialize first.
var ErrNotInitialized = errors.New("session not initialized")

// ProviderFactory creates the model client for a session.
type ProviderFactory func(cfg config.ModelConfig) (llm.Provider, error)

// DefaultProviderFactory builds a provider from the model config.
func DefaultProviderFactory(cfg config.ModelConfig) (llm.Provider, error) {
	return llm.NewProvider(llm.ProviderConfig{
		Kind:       cfg.Provider,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		MaxRetries: 3,
	})
}

// Options configures a new Session.
type Options struct {
	Config          *config.Config
	ProviderFactory ProviderFactory
	MCPOptions      []mcp.Option
	Builtin         builtin.Options
	// ExtraTools are registered after the built-in ones.
	ExtraTools []tools.Descriptor
	Logger     zerolog.Logger
}

// Settings are the runtime-adjustable parts of a session.
type Settings struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Approval    config.ApprovalPolicy
	MaxTurns    int
	WorkingDir  string
}

// Stats summarizes a session for display.
type Stats struct {
	SessionID       string
	Turns           int
	Messages        int
	Usage           llm.Usage
	EstimatedTokens int
	Tools           int
	MCPServers      int
	Model           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session is one live conversation with its tools and bindings.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	id        string
	createdAt time.Time
	updatedAt time.Time
	turnCount int
	settings  Settings
	askUser   AskUserResponder
	confirmer tools.Confirmer
	question  *PendingQuestion

	context  *ContextManager
	registry *tools.Registry
	provider llm.Provider
	mcp      *mcp.Manager
	queue    *turnqueue.Queue
	hooks    *hooks.Manager

	initialized  bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an uninitialized session with a fresh id.
func New(opts Options) *Session {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ProviderFactory == nil {
		opts.ProviderFactory = DefaultProviderFactory
	}
	if opts.Builtin.GroqAPIKey == "" {
		opts.Builtin.GroqAPIKey = opts.Config.GroqAPIKey
	}

	cfg := opts.Config
	now := time.Now()
	s := &Session{
		opts:      opts,
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		settings: Settings{
			Provider:    cfg.Model.Provider,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
			Approval:    cfg.Approval,
			MaxTurns:    cfg.MaxTurns,
			WorkingDir:  cfg.Cwd,
		},
		context: NewContextManager(""),
	}
	s.logger = opts.Logger
	return s
}

// Initialize creates the provider, registers the tools, starts the MCP
// servers and seeds the system preamble.
func (s *Session) Initialize(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "tandem.session", "session.initialize",
		attribute.String("session_id", s.id))
	defer func() { tracing.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	s.logger = s.opts.Logger.With().Str("component", "session").Str("session_id", s.id).Logger()
	cfg := s.opts.Config

	provider, err := s.opts.ProviderFactory(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	registry := tools.NewRegistry(s.logger)
	if err := builtin.RegisterAll(registry, s.opts.Builtin); err != nil {
		_ = provider.Close()
		return fmt.Errorf("failed to register built-in tools: %w", err)
	}
	for _, desc := range s.opts.ExtraTools {
		if err := registry.Register(desc); err != nil {
			_ = provider.Close()
			return fmt.Errorf("failed to register tool %s: %w", desc.Name, err)
		}
	}

	manager := mcp.NewManager(cfg.MCPServers, s.logger, s.opts.MCPOptions...)
	if err := manager.Start(ctx, registry); err != nil {
		_ = provider.Close()
		return fmt.Errorf("failed to start mcp servers: %w", err)
	}

	policy, err := turnqueue.ParsePolicy(cfg.TurnPolicy)
	if err != nil {
		_ = manager.Shutdown(ctx)
		_ = provider.Close()
		return err
	}

	hookManager, err := hooks.FromConfig(cfg, s.logger)
	if err != nil {
		_ = manager.Shutdown(ctx)
		_ = provider.Close()
		return fmt.Errorf("failed to load hooks: %w", err)
	}

	s.provider = provider
	s.registry = registry
	s.mcp = manager
	s.queue = turnqueue.New(s.id, policy, s.logger)
	s.hooks = hookManager
	s.context.SetSystemPrompt(s.buildPreamble())
	s.initialized = true

	observability.RecordSessionAudit(ctx, "initialize", s.id, "success", map[string]interface{}{
		"provider": provider.Name(),
		"tools":    registry.Count(),
	})
	s.logger.Info().
		Str("provider", provider.Name()).
		Str("model", s.settings.Model).
		Int("tools", registry.Count()).
		Msg("Session initialized")

	s.hooks.Fire(ctx, hooks.EventSessionStart, map[string]interface{}{
		"session_id": s.id,
		"turn_count": s.turnCount,
		"messages":   s.context.Len(),
	})
	return nil
}

func (s *Session) buildPreamble() string {
	prompt := strings.TrimSpace(s.opts.Config.SystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	if s.settings.WorkingDir != "" {
		fmt.Fprintf(&b, "\n\nWorking directory: %s", s.settings.WorkingDir)
	}
	if names := s.registry.Names(); len(names) > 0 {
		fmt.Fprintf(&b, "\nAvailable tools: %s", strings.Join(names, ", "))
	}
	return b.String()
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Context returns the conversation history.
func (s *Session) Context() *ContextManager { return s.context }

// Tools returns the tool registry. Nil before Initialize.
func (s *Session) Tools() *tools.Registry { return s.registry }

// Provider returns the model client. Nil before Initialize.
func (s *Session) Provider() llm.Provider { return s.provider }

// MCP returns the MCP server manager. Nil before Initialize.
func (s *Session) MCP() *mcp.Manager { return s.mcp }

// Hooks returns the lifecycle hook manager. Nil before Initialize.
func (s *Session) Hooks() *hooks.Manager { return s.hooks }

// Logger returns the session's logger.
func (s *Session) Logger() zerolog.Logger { return s.logger }

// Settings returns a copy of the runtime settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetModel switches the model used by later turns.
func (s *Session) SetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Model = name
}

// SetApproval changes the approval policy used by later tool calls.
func (s *Session) SetApproval(policy config.ApprovalPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Approval = policy
}

// ApplyConfig picks up the hot-reloadable settings from a changed config.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Model.Name != "" {
		s.settings.Model = cfg.Model.Name
	}
	s.settings.Temperature = cfg.Model.Temperature
	if cfg.Model.MaxTokens > 0 {
		s.settings.MaxTokens = cfg.Model.MaxTokens
	}
	if cfg.Approval != "" {
		s.settings.Approval = cfg.Approval
	}
	if cfg.MaxTurns > 0 {
		s.settings.MaxTurns = cfg.MaxTurns
	}
	s.logger.Info().Str("model", s.settings.Model).Str("approval", string(s.settings.Approval)).Msg("Settings reloaded")
}

// BindAskUser makes r answer ask_user for later tool calls, replacing any
// previous binding.
func (s *Session) BindAskUser(r AskUserResponder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.askUser = r
}

// UnbindAskUser removes the ask-user responder.
func (s *Session) UnbindAskUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.askUser = nil
}

// BindConfirmer makes c approve mutating tool calls, replacing any previous binding.
func (s *Session) BindConfirmer(c tools.Confirmer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmer = c
}

// UnbindConfirmer removes the confirmation responder.
func (s *Session) UnbindConfirmer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmer = nil
}

// Confirmer returns the bound confirmation responder, or nil.
func (s *Session) Confirmer() tools.Confirmer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmer
}

// AskUser forwards question to the bound responder.
func (s *Session) AskUser(ctx context.Context, question string) (string, error) {
	s.mu.Lock()
	r := s.askUser
	s.mu.Unlock()

	if r == nil {
		return "", ErrNoResponder
	}
	return r.Ask(ctx, question)
}

// AskUserFunc returns the capability handed to tools, or nil when no
// responder is bound.
func (s *Session) AskUserFunc() tools.AskUserFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.askUser == nil {
		return nil
	}
	return s.AskUser
}

// OpenQuestion occupies the question slot on behalf of owner.
func (s *Session) OpenQuestion(owner, question string) (*PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.question != nil {
		return nil, ErrQuestionPending
	}
	q := newPendingQuestion(owner, question, s.releaseQuestion)
	s.question = q
	observability.SetQuestionPending(true)
	s.logger.Debug().Str("question_id", q.ID).Str("owner", owner).Msg("Question opened")
	return q, nil
}

func (s *Session) releaseQuestion(q *PendingQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == q {
		s.question = nil
		observability.SetQuestionPending(false)
	}
}

// AnswerQuestion resolves the pending question when channelID owns it. It
// reports whether text was consumed as an answer.
func (s *Session) AnswerQuestion(channelID, text string) bool {
	s.mu.Lock()
	q := s.question
	s.mu.Unlock()

	if q == nil || q.Owner != channelID {
		return false
	}
	return q.Resolve(text) == nil
}

// PendingQuestion returns the open question, or nil.
func (s *Session) PendingQuestion() *PendingQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.question
}

// RunTurn runs fn through the session's turn gate.
func (s *Session) RunTurn(ctx context.Context, fn turnqueue.Task, opts *turnqueue.Options) error {
	if s.queue == nil {
		return ErrNotInitialized
	}
	return s.queue.Submit(ctx, fn, opts)
}

// TurnQueue returns the turn gate. Nil before Initialize.
func (s *Session) TurnQueue() *turnqueue.Queue { return s.queue }

// BeginTurn commits the user message and counts the turn. It returns the new
// turn number.
func (s *Session) BeginTurn(message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.context.AddUserMessage(message)
	s.turnCount++
	s.updatedAt = time.Now()
	return s.turnCount
}

// Touch marks the session as updated.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = time.Now()
}

// TurnCount returns the number of turns started.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Clear drops the history and token totals. The turn count is kept. It goes
// through the turn gate, so it waits for a running turn under the queue
// policy and fails with turnqueue.ErrBusy under the reject policy.
func (s *Session) Clear(ctx context.Context) error {
	return s.RunTurn(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.context.Clear()
		s.updatedAt = time.Now()
		return nil
	}, nil)
}

// Snapshot captures the persistable state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Snapshot{
		SessionID:  s.id,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
		TurnCount:  s.turnCount,
		Messages:   s.context.Messages(),
		TotalUsage: s.context.TotalUsage(),
	}
}

// Stats summarizes the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		SessionID:       s.id,
		Turns:           s.turnCount,
		Messages:        s.context.Len(),
		Usage:           s.context.TotalUsage(),
		EstimatedTokens: s.context.EstimateTokens(),
		Model:           s.settings.Model,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
	if s.registry != nil {
		st.Tools = s.registry.Count()
	}
	if s.mcp != nil {
		st.MCPServers = s.mcp.ConnectedCount()
	}
	return st
}

// Shutdown cancels the running turn, fails the pending question and
// releases the provider and MCP servers. Later calls return the first
// call's result.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Session) shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down session")

	var errs []error
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Turn queue close failed")
		}
	}
	s.failQuestion()
	s.hooks.Fire(ctx, hooks.EventSessionEnd, map[string]interface{}{"session_id": s.ID()})

	if s.mcp != nil {
		if err := s.mcp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mcp shutdown: %w", err))
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider close: %w", err))
		}
	}

	status := "success"
	if len(errs) > 0 {
		status = "failure"
	}
	observability.RecordSessionAudit(ctx, "shutdown", s.ID(), status, nil)
	return errors.Join(errs...)
}

func (s *Session) failQuestion() {
	if q := s.PendingQuestion(); q != nil {
		_ = q.Fail(ErrSessionClosed)
	}
}
