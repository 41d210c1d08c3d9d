// Package hooks runs user shell commands on session, turn and tool events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/tandem/internal/config"
	"github.com/rs/zerolog"
)

// Lifecycle events.
const (
	EventSessionStart = "session:start"
	EventSessionEnd   = "session:end"
	EventTurnStart    = "turn:start"
	EventTurnEnd      = "turn:end"
	EventToolBefore   = "tool:before"
	EventToolAfter    = "tool:after"
)

// DefaultTimeout bounds a hook without its own timeout.
const DefaultTimeout = 30 * time.Second

// Events lists the events hooks can subscribe to.
func Events() []string {
	return []string{
		EventSessionStart, EventSessionEnd,
		EventTurnStart, EventTurnEnd,
		EventToolBefore, EventToolAfter,
	}
}

// Hook is one shell command bound to an event.
type Hook struct {
	ID      string
	Event   string
	Command string
	Timeout time.Duration
}

// Config configures a Manager.
type Config struct {
	Enabled    bool
	Hooks      []Hook
	WorkingDir string
	Logger     zerolog.Logger
}

// Manager executes configured hooks for lifecycle events. A nil Manager is
// valid and does nothing.
type Manager struct {
	enabled bool
	dir     string
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[string][]Hook
}

// FromConfig builds a manager from the hooks section of cfg.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (*Manager, error) {
	hooks := make([]Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		if !h.Enabled {
			continue
		}
		hooks = append(hooks, Hook{
			ID:      h.ID,
			Event:   h.Event,
			Command: h.Command,
			Timeout: time.Duration(h.Timeout) * time.Second,
		})
	}
	return NewManager(Config{
		Enabled:    cfg.HooksEnabled,
		Hooks:      hooks,
		WorkingDir: cfg.Cwd,
		Logger:     logger,
	})
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:      cfg.Enabled,
		dir:          cfg.WorkingDir,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}
	if !cfg.Enabled {
		return manager, nil
	}

	known := make(map[string]bool)
	for _, e := range Events() {
		known[e] = true
	}
	for _, hook := range cfg.Hooks {
		event := strings.TrimSpace(hook.Event)
		if !known[event] {
			return nil, fmt.Errorf("unknown hook event %q", hook.Event)
		}
		if strings.TrimSpace(hook.Command) == "" {
			return nil, fmt.Errorf("hook command is required for event %q", event)
		}
		manager.hooksByEvent[event] = append(manager.hooksByEvent[event], hook)
	}
	return manager, nil
}

// Count returns the number of active hooks.
func (m *Manager) Count() int {
	if m == nil || !m.enabled {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, hooks := range m.hooksByEvent {
		n += len(hooks)
	}
	return n
}

// Trigger runs the hooks registered for event in order and joins their
// errors.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[event]...)
	m.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := m.execute(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire is Trigger for call sites that carry on regardless. Failures are
// logged.
func (m *Manager) Fire(ctx context.Context, event string, data map[string]interface{}) {
	if err := m.Trigger(ctx, event, data); err != nil {
		m.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
	}
}

func (m *Manager) execute(ctx context.Context, event string, hook Hook, data map[string]interface{}) error {
	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// Hooks still run while a turn is being cancelled.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Command)
	cmd.Dir = m.dir
	cmd.Env = buildEnvironment(event, data)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hookID).
		Dur("duration", time.Since(start)).
		Str("output", outputText).
		Msg("Hook executed")
	return nil
}

func buildEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "TANDEM_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "TANDEM_HOOK_DATA_"+normalizeEnvKey(key)+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
