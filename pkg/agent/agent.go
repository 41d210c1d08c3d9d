package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/hooks"
	"github.com/harun/tandem/pkg/llm"
	"github.com/harun/tandem/pkg/session"
	"github.com/harun/tandem/pkg/tools"
	"github.com/harun/tandem/pkg/turnqueue"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxSteps bounds model calls per turn when the session sets no limit.
const DefaultMaxSteps = 25

var errCancelled = errors.New("turn cancelled")

// Agent executes turns for one session.
type Agent struct {
	sess   *session.Session
	logger zerolog.Logger
	loop   *loopDetector
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithLoopThreshold changes how many identical consecutive tool calls fail a turn.
func WithLoopThreshold(n int) Option {
	return func(a *Agent) { a.loop = newLoopDetector(n) }
}

// New creates an agent for sess.
func New(sess *session.Session, opts ...Option) *Agent {
	observability.EnsureRegistered()

	a := &Agent{
		sess:   sess,
		logger: sess.Logger(),
		loop:   newLoopDetector(DefaultLoopThreshold),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "agent").Logger()
	return a
}

// Session returns the session the agent runs against.
func (a *Agent) Session() *session.Session { return a.sess }

// Reset clears the loop detector.
func (a *Agent) Reset() { a.loop.reset() }

type runConfig struct {
	askUser   session.AskUserResponder
	confirmer tools.Confirmer
	channel   string
	onWait    func(position int)
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

// WithAskUser binds r as the session's ask-user responder when the turn starts.
func WithAskUser(r session.AskUserResponder) RunOption {
	return func(c *runConfig) { c.askUser = r }
}

// WithConfirmer binds c as the session's confirmation responder when the turn starts.
func WithConfirmer(confirmer tools.Confirmer) RunOption {
	return func(c *runConfig) { c.confirmer = confirmer }
}

// WithChannel tags the turn's logs, spans and audit records with a channel id.
func WithChannel(id string) RunOption {
	return func(c *runConfig) { c.channel = id }
}

// WithOnWait is called when the turn has to queue behind another one.
func WithOnWait(fn func(position int)) RunOption {
	return func(c *runConfig) { c.onWait = fn }
}

// Run executes one turn and streams its events. The channel is closed after
// the terminal event; callers must drain it.
func (a *Agent) Run(ctx context.Context, message string, opts ...RunOption) <-chan Event {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	out := make(chan Event)
	emit := func(ev Event) {
		observability.RecordEvent(string(ev.Type))
		out <- ev
	}

	go func() {
		defer close(out)

		if cfg.channel != "" {
			ctx = tracing.WithChannel(ctx, cfg.channel)
		}
		ctx = tracing.WithSessionID(ctx, a.sess.ID())

		start := time.Now()
		provider := "unknown"
		if p := a.sess.Provider(); p != nil {
			provider = p.Name()
		}

		err := a.sess.RunTurn(ctx, func(turnCtx context.Context) error {
			return a.runTurn(turnCtx, message, cfg, emit)
		}, &turnqueue.Options{OnWait: cfg.onWait})

		terminal := "complete"
		if err != nil {
			terminal = "error"
			if errors.Is(err, turnqueue.ErrBusy) {
				terminal = "rejected"
			}
			emit(Event{Type: EventAgentError, Error: describe(err)})
		}
		observability.RecordTurn(provider, terminal, time.Since(start))
	}()

	return out
}

// describe renders a turn failure for AGENT_ERROR.
func describe(err error) string {
	if errors.Is(err, errCancelled) {
		return err.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, turnqueue.ErrClosed) {
		return fmt.Sprintf("%v: %v", errCancelled, err)
	}
	return err.Error()
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", errCancelled, context.Cause(ctx))
}

func (a *Agent) runTurn(ctx context.Context, message string, cfg *runConfig, emit func(Event)) (err error) {
	ctx = tracing.WithTurnID(ctx, tracing.NewTurnID())
	ctx, span := tracing.StartSpan(ctx, "tandem.agent", "agent.run",
		attribute.String("session_id", a.sess.ID()),
		attribute.String("channel", cfg.channel),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, a.logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Turn panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	if cfg.askUser != nil {
		a.sess.BindAskUser(cfg.askUser)
	}
	if cfg.confirmer != nil {
		a.sess.BindConfirmer(cfg.confirmer)
	}

	turn := a.sess.BeginTurn(message)
	a.loop.reset()
	span.SetAttributes(attribute.Int("turn", turn))
	logger.Info().Int("turn", turn).Int("message_length", len(message)).Msg("Turn started")

	hookData := map[string]interface{}{"session_id": a.sess.ID(), "turn": turn, "channel": cfg.channel}
	a.sess.Hooks().Fire(ctx, hooks.EventTurnStart, hookData)
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		a.sess.Hooks().Fire(ctx, hooks.EventTurnEnd, map[string]interface{}{
			"session_id": a.sess.ID(), "turn": turn, "channel": cfg.channel, "status": status,
		})
	}()

	settings := a.sess.Settings()
	maxSteps := settings.MaxTurns
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	cm := a.sess.Context()
	var streamed strings.Builder

	for step := 0; ; step++ {
		if step >= maxSteps {
			return fmt.Errorf("exceeded the maximum of %d model calls in one turn", maxSteps)
		}
		if ctx.Err() != nil {
			return cancelled(ctx)
		}

		resp, err := a.callModel(ctx, settings, step, func(text string) {
			streamed.WriteString(text)
			emit(Event{Type: EventTextDelta, Content: text})
		})
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx)
			}
			return fmt.Errorf("model call failed: %w", err)
		}
		cm.AddUsage(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			cm.AddAssistantMessage(resp.Content, nil)
			a.sess.Touch()

			content := streamed.String()
			if content == "" {
				content = resp.Content
			}
			emit(Event{Type: EventTextComplete, Content: content})
			logger.Info().Int("turn", turn).Int("steps", step+1).Msg("Turn complete")
			return nil
		}

		calls := assignCallIDs(resp.ToolCalls)
		cm.AddAssistantMessage(resp.Content, calls)
		if err := a.dispatch(ctx, calls, settings, emit); err != nil {
			return err
		}
	}
}

func (a *Agent) callModel(ctx context.Context, settings session.Settings, step int, onDelta llm.DeltaFunc) (resp *llm.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "tandem.agent", "agent.model_call",
		attribute.String("model", settings.Model),
		attribute.Int("step", step),
	)
	defer func() { tracing.EndSpan(span, err) }()

	provider := a.sess.Provider()
	if provider == nil {
		return nil, session.ErrNotInitialized
	}

	req := llm.Request{
		Model:       settings.Model,
		Messages:    a.sess.Context().Messages(),
		Tools:       a.sess.Tools().Definitions(),
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}
	resp, err = provider.Stream(ctx, req, onDelta)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tool_calls", len(resp.ToolCalls)),
		attribute.Int("usage.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

// dispatch runs one batch of tool calls in order. Calls that never run still
// get a tool message so the history stays well formed.
func (a *Agent) dispatch(ctx context.Context, calls []llm.ToolCall, settings session.Settings, emit func(Event)) error {
	cm := a.sess.Context()
	registry := a.sess.Tools()

	for i, call := range calls {
		if ctx.Err() != nil {
			a.abandon(calls[i:], "Error: turn cancelled")
			return cancelled(ctx)
		}
		if n, looping := a.loop.observe(call); looping {
			a.abandon(calls[i:], "Error: skipped, repeated tool call")
			return fmt.Errorf("loop detected: %s was called %d times in a row with the same arguments", call.Name, n)
		}

		var kind tools.Kind
		if desc, ok := registry.Get(call.Name); ok {
			kind = desc.Kind
		}

		emit(toolStartEvent(call.ID, call.Name, kind, call.Arguments))
		a.sess.Hooks().Fire(ctx, hooks.EventToolBefore, map[string]interface{}{"tool": call.Name, "call_id": call.ID})
		result := a.executeTool(ctx, call, settings)
		cm.AddToolResult(call.ID, result.ModelContent())
		a.sess.Hooks().Fire(ctx, hooks.EventToolAfter, map[string]interface{}{
			"tool": call.Name, "call_id": call.ID, "success": result.Success,
		})
		emit(toolCompleteEvent(call.ID, call.Name, kind, result))
	}
	return nil
}

func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall, settings session.Settings) tools.Result {
	ctx, span := tracing.StartSpan(ctx, "tandem.agent", "agent.tool_call",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()

	params := call.Arguments
	if params == nil {
		params = map[string]interface{}{}
	}
	result := a.sess.Tools().Execute(ctx, call.Name, tools.Invocation{
		CallID:     call.ID,
		Params:     params,
		WorkingDir: settings.WorkingDir,
		AskUser:    a.sess.AskUserFunc(),
		Confirm:    a.sess.Confirmer(),
		Approval:   settings.Approval,
	})
	span.SetAttributes(attribute.Bool("success", result.Success))
	return result
}

func (a *Agent) abandon(calls []llm.ToolCall, content string) {
	for _, call := range calls {
		a.sess.Context().AddToolResult(call.ID, content)
	}
}

func assignCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + gonanoid.Must(12)
		}
		out[i] = call
	}
	return out
}
