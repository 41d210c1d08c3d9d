package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ApprovalPolicy controls how mutating tool calls are confirmed.
type ApprovalPolicy string

const (
	// ApprovalOnRequest asks the bound confirmation responder before every mutating call.
	ApprovalOnRequest ApprovalPolicy = "on-request"
	// ApprovalAuto runs every tool call without asking.
	ApprovalAuto ApprovalPolicy = "auto"
	// ApprovalNever rejects every mutating call.
	ApprovalNever ApprovalPolicy = "never"
)

// ApprovalPolicies lists the accepted approval policies in display order.
func ApprovalPolicies() []ApprovalPolicy {
	return []ApprovalPolicy{ApprovalOnRequest, ApprovalAuto, ApprovalNever}
}

// ParseApprovalPolicy converts user input to an ApprovalPolicy.
func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	for _, p := range ApprovalPolicies() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid approval policy %q", s)
}

// Config represents the main tandem configuration
type Config struct {
	Model ModelConfig `json:"model" mapstructure:"model"`

	Approval     ApprovalPolicy `json:"approval" mapstructure:"approval"`
	Cwd          string         `json:"cwd" mapstructure:"cwd"`
	MaxTurns     int            `json:"max_turns" mapstructure:"max_turns"`
	HooksEnabled bool           `json:"hooks_enabled" mapstructure:"hooks_enabled"`
	Autosave     bool           `json:"autosave" mapstructure:"autosave"`
	TurnPolicy   string         `json:"turn_policy" mapstructure:"turn_policy"` // queue, reject
	SystemPrompt string         `json:"system_prompt" mapstructure:"system_prompt"`

	// Data directory for sessions, checkpoints, history and logs
	DataDir string        `json:"data_dir" mapstructure:"data_dir"`
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	GroqAPIKey string `json:"groq_api_key" mapstructure:"groq_api_key"`

	MCPServers map[string]MCPServerConfig `json:"mcp_servers" mapstructure:"mcp_servers"`

	// Hooks run only when HooksEnabled is set
	Hooks []HookConfig `json:"hooks" mapstructure:"hooks"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ModelConfig selects the model provider
type ModelConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	Name        string  `json:"name" mapstructure:"name"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// StorageConfig selects the snapshot store
type StorageConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // file, sqlite
	Path   string `json:"path" mapstructure:"path"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken         string `json:"bot_token" mapstructure:"bot_token"`
	AuthorizedChatID string `json:"authorized_chat_id" mapstructure:"authorized_chat_id"`
	EditIntervalMs   int    `json:"edit_interval_ms" mapstructure:"edit_interval_ms"`
}

// Enabled reports whether the Telegram channel should start.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.AuthorizedChatID != ""
}

// MCPServerConfig describes one stdio MCP server
type MCPServerConfig struct {
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" mapstructure:"env"`
	Enabled bool              `json:"enabled" mapstructure:"enabled"`
}

// HookConfig runs a shell command on a lifecycle event
type HookConfig struct {
	ID      string `json:"id" mapstructure:"id"`
	Event   string `json:"event" mapstructure:"event"`
	Command string `json:"command" mapstructure:"command"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds, 0 uses the default
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig toggles OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4o-mini",
			Temperature: 1,
			MaxTokens:   4096,
		},
		Approval:   ApprovalOnRequest,
		MaxTurns:   25,
		TurnPolicy: "queue",
		Storage: StorageConfig{
			Driver: "file",
		},
		Telegram: TelegramConfig{
			EditIntervalMs: 1000,
		},
		MCPServers: map[string]MCPServerConfig{},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "tandem",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is invalid (must be: openai, anthropic)", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Provider == "anthropic" && c.Model.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required for the anthropic provider"))
	}
	if c.Model.Provider == "openai" && c.Model.APIKey == "" && c.Model.BaseURL == "" {
		errs = append(errs, errors.New("model.api_key or model.base_url is required for the openai provider"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature must be between 0 and 2, got %v", c.Model.Temperature))
	}
	if _, err := ParseApprovalPolicy(string(c.Approval)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("max_turns must be > 0, got %d", c.MaxTurns))
	}
	switch c.TurnPolicy {
	case "queue", "reject":
	default:
		errs = append(errs, fmt.Errorf("turn_policy %q is invalid (must be: queue, reject)", c.TurnPolicy))
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid (must be: file, sqlite)", c.Storage.Driver))
	}
	if c.Cwd == "" {
		errs = append(errs, errors.New("cwd is required"))
	}

	v := NewValidator()
	if c.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(c.Telegram.BotToken); err != nil {
			errs = append(errs, err)
		}
		if c.Telegram.AuthorizedChatID == "" {
			errs = append(errs, errors.New("telegram.authorized_chat_id is required when a bot token is set"))
		}
	}
	if c.Telegram.AuthorizedChatID != "" {
		if err := v.ValidateChatID(c.Telegram.AuthorizedChatID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	for name, srv := range c.MCPServers {
		if srv.Enabled && srv.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers.%s: command is required", name))
		}
	}
	if c.HooksEnabled {
		for i, h := range c.Hooks {
			if h.Enabled && (h.Event == "" || h.Command == "") {
				errs = append(errs, fmt.Errorf("hooks[%d]: event and command are required", i))
			}
		}
	}

	return errors.Join(errs...)
}
