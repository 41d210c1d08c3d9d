package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/pkg/mcp"
	"github.com/harun/tandem/pkg/persistence"
	"github.com/harun/tandem/pkg/turnqueue"
)

// errExit ends the REPL.
var errExit = errors.New("exit")

type command struct {
	name    string
	usage   string
	help    string
	handler func(ctx context.Context, args string) error
}

// Commands is the slash-command table of the REPL.
type Commands struct {
	app   *App
	order []*command
	index map[string]*command
}

// NewCommands builds the command table for app.
func NewCommands(app *App) *Commands {
	c := &Commands{app: app, index: make(map[string]*command)}

	c.add("/help", "", "Show this help", c.help)
	c.add("/exit", "", "Exit", func(context.Context, string) error { return errExit })
	c.add("/quit", "", "Exit", func(context.Context, string) error { return errExit })
	c.add("/clear", "", "Clear conversation history", c.clear)
	c.add("/config", "", "Show current configuration", c.config)
	c.add("/model", "[name]", "Show available models or switch model", c.model)
	c.add("/approval", "[policy]", "Show or change the approval policy", c.approval)
	c.add("/stats", "", "Show session statistics", c.stats)
	c.add("/tools", "", "List available tools", c.tools)
	c.add("/mcp", "", "Show MCP server status", c.mcp)
	c.add("/save", "", "Save the current session", c.save)
	c.add("/sessions", "", "List saved sessions", c.sessions)
	c.add("/resume", "<session_id>", "Resume a saved session", c.resume)
	c.add("/checkpoint", "", "Create a checkpoint", c.checkpoint)
	c.add("/checkpoints", "", "List checkpoints", c.checkpoints)
	c.add("/restore", "<checkpoint_id>", "Restore a checkpoint", c.restore)

	return c
}

func (c *Commands) add(name, usage, help string, fn func(ctx context.Context, args string) error) {
	cmd := &command{name: name, usage: usage, help: help, handler: fn}
	c.order = append(c.order, cmd)
	c.index[name] = cmd
}

// Names lists the commands in display order.
func (c *Commands) Names() []string {
	names := make([]string, len(c.order))
	for i, cmd := range c.order {
		names[i] = cmd.name
	}
	return names
}

// Execute runs a slash command line. It returns errExit for /exit and /quit.
func (c *Commands) Execute(ctx context.Context, line string) error {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	cmd, ok := c.index[name]
	if !ok {
		c.app.render.Error("Unknown command: %s. Type /help for a list.", name)
		return nil
	}
	return cmd.handler(ctx, args)
}

func (c *Commands) help(context.Context, string) error {
	r := c.app.render
	r.Heading("Commands")
	for _, cmd := range c.order {
		usage := cmd.name
		if cmd.usage != "" {
			usage += " " + cmd.usage
		}
		r.Info("  %-30s %s", usage, cmd.help)
	}
	r.Dim("Anything else is sent to the agent. Ctrl+C cancels a running turn.")
	return nil
}

func (c *Commands) clear(ctx context.Context, _ string) error {
	// The running turn may be waiting on this terminal for an answer.
	if c.app.Busy() {
		c.app.render.Error("A turn is in progress. Wait for it to finish or press Ctrl+C.")
		return nil
	}
	if err := c.app.Session().Clear(ctx); err != nil {
		if errors.Is(err, turnqueue.ErrBusy) {
			c.app.render.Error("Cannot clear: a turn is in progress")
			return nil
		}
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	c.app.Agent().Reset()
	c.app.render.Success("Conversation cleared")
	return nil
}

func (c *Commands) config(context.Context, string) error {
	s := c.app.Session().Settings()
	cfg := c.app.cfg
	r := c.app.render
	r.Heading("Current Configuration")
	r.Info("  Provider: %s", s.Provider)
	r.Info("  Model: %s", s.Model)
	r.Info("  Temperature: %g", s.Temperature)
	r.Info("  Max Tokens: %d", s.MaxTokens)
	r.Info("  Approval: %s", s.Approval)
	r.Info("  Working Dir: %s", s.WorkingDir)
	r.Info("  Max Turns: %d", s.MaxTurns)
	r.Info("  Hooks Enabled: %t", cfg.HooksEnabled)
	r.Info("  Autosave: %t", cfg.Autosave)
	r.Info("  Turn Policy: %s", cfg.TurnPolicy)
	r.Info("  Storage: %s (%s)", cfg.Storage.Driver, cfg.DataDir)
	r.Info("  Telegram: %t", cfg.Telegram.Enabled())
	return nil
}

func (c *Commands) model(ctx context.Context, args string) error {
	sess := c.app.Session()
	r := c.app.render
	if args != "" {
		sess.SetModel(args)
		r.Success("Model changed to: %s", args)
		return nil
	}

	current := sess.Settings().Model
	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	models, err := sess.Provider().ListModels(listCtx)
	if err != nil {
		r.Info("Current model: %s (could not list models: %v)", current, err)
		return nil
	}
	if len(models) == 0 {
		r.Info("Current model: %s (no models reported)", current)
		return nil
	}

	r.Heading("Available models")
	for _, m := range models {
		marker := " "
		if m == current {
			marker = "*"
		}
		r.Info("  %s %s", marker, m)
	}
	r.Dim("Use /model <name> to switch.")
	return nil
}

func (c *Commands) approval(_ context.Context, args string) error {
	sess := c.app.Session()
	r := c.app.render
	if args == "" {
		r.Info("Current approval policy: %s", sess.Settings().Approval)
		return nil
	}

	policy, err := config.ParseApprovalPolicy(args)
	if err != nil {
		r.Error("Incorrect approval policy: %s", args)
		names := make([]string, 0, 3)
		for _, p := range config.ApprovalPolicies() {
			names = append(names, string(p))
		}
		r.Info("Valid options: %s", strings.Join(names, ", "))
		return nil
	}
	sess.SetApproval(policy)
	r.Success("Approval policy changed to: %s", policy)
	return nil
}

func (c *Commands) stats(context.Context, string) error {
	st := c.app.Session().Stats()
	r := c.app.render
	r.Heading("Session Statistics")
	r.Info("  session_id: %s", st.SessionID)
	r.Info("  created_at: %s", st.CreatedAt.Format(time.RFC3339))
	r.Info("  turn_count: %d", st.Turns)
	r.Info("  message_count: %d", st.Messages)
	r.Info("  token_usage: %d in / %d out / %d total", st.Usage.InputTokens, st.Usage.OutputTokens, st.Usage.TotalTokens)
	r.Info("  context_tokens: ~%d", st.EstimatedTokens)
	r.Info("  tools: %d", st.Tools)
	r.Info("  mcp_servers: %d", st.MCPServers)
	r.Info("  model: %s", st.Model)
	return nil
}

func (c *Commands) tools(context.Context, string) error {
	reg := c.app.Session().Tools()
	r := c.app.render
	names := reg.Names()
	r.Heading(fmt.Sprintf("Available tools (%d)", len(names)))
	for _, name := range names {
		if desc, ok := reg.Get(name); ok {
			r.Info("  • %s [%s]", name, desc.Kind)
			continue
		}
		r.Info("  • %s", name)
	}
	return nil
}

func (c *Commands) mcp(context.Context, string) error {
	servers := c.app.Session().MCP().Servers()
	r := c.app.render
	r.Heading(fmt.Sprintf("MCP Servers (%d)", len(servers)))
	for _, s := range servers {
		line := fmt.Sprintf("  • %s: %s (%d tools)", s.Name, s.Status, len(s.Tools))
		switch {
		case s.Status == mcp.StatusConnected:
			r.Success("%s", line)
		case s.Error != "":
			r.Error("%s: %s", line, s.Error)
		default:
			r.Dim("%s", line)
		}
	}
	return nil
}

func (c *Commands) save(ctx context.Context, _ string) error {
	sess := c.app.Session()
	if err := c.app.store.Save(ctx, sess.Snapshot()); err != nil {
		c.app.render.Error("Failed to save session: %v", err)
		return nil
	}
	c.app.render.Success("Session saved: %s", sess.ID())
	return nil
}

func (c *Commands) sessions(ctx context.Context, _ string) error {
	list, err := c.app.store.List(ctx)
	r := c.app.render
	if err != nil {
		r.Error("Failed to list sessions: %v", err)
		return nil
	}
	r.Heading("Saved Sessions")
	if len(list) == 0 {
		r.Dim("  none")
	}
	for _, s := range list {
		r.Info("  • %s (turns: %d, messages: %d, updated: %s)",
			s.SessionID, s.TurnCount, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func (c *Commands) resume(ctx context.Context, id string) error {
	r := c.app.render
	if id == "" {
		r.Error("Usage: /resume <session_id>")
		return nil
	}
	sess, err := c.app.Resume(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		r.Error("Session does not exist: %s", id)
	case err != nil:
		r.Error("Failed to resume session: %v", err)
	default:
		r.Success("Resumed session: %s", sess.ID())
	}
	return nil
}

func (c *Commands) checkpoint(ctx context.Context, _ string) error {
	id, err := c.app.store.SaveCheckpoint(ctx, c.app.Session().Snapshot())
	if err != nil {
		c.app.render.Error("Failed to create checkpoint: %v", err)
		return nil
	}
	c.app.render.Success("Checkpoint created: %s", id)
	return nil
}

func (c *Commands) checkpoints(ctx context.Context, _ string) error {
	list, err := c.app.store.ListCheckpoints(ctx)
	r := c.app.render
	if err != nil {
		r.Error("Failed to list checkpoints: %v", err)
		return nil
	}
	r.Heading("Checkpoints")
	if len(list) == 0 {
		r.Dim("  none")
	}
	for _, cp := range list {
		r.Info("  • %s (session: %s, turns: %d, created: %s)",
			cp.CheckpointID, cp.SessionID, cp.TurnCount, cp.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (c *Commands) restore(ctx context.Context, id string) error {
	r := c.app.render
	if id == "" {
		r.Error("Usage: /restore <checkpoint_id>")
		return nil
	}
	sess, err := c.app.RestoreCheckpoint(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		r.Error("Checkpoint does not exist: %s", id)
	case err != nil:
		r.Error("Failed to restore checkpoint: %v", err)
	default:
		r.Success("Resumed session: %s, checkpoint: %s", sess.ID(), id)
	}
	return nil
}
