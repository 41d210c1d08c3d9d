package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/tools"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Server states reported by Servers.
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
	StatusDisabled  = "disabled"
	StatusStopped   = "stopped"
)

// ToolSeparator joins server and tool names.
const ToolSeparator = "__"

// ServerStatus describes one configured server.
type ServerStatus struct {
	Name   string
	Status string
	Tools  []string
	Error  string
}

// TransportFunc builds the transport for a server.
type TransportFunc func(name string, cfg config.MCPServerConfig) (sdkmcp.Transport, error)

type server struct {
	name    string
	cfg     config.MCPServerConfig
	session *sdkmcp.ClientSession
	status  ServerStatus
}

// Manager owns the client sessions of the configured MCP servers.
type Manager struct {
	servers   map[string]config.MCPServerConfig
	transport TransportFunc
	client    *sdkmcp.Client
	logger    zerolog.Logger

	mu       sync.Mutex
	running  map[string]*server
	registry *tools.Registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransport replaces the default stdio command transport.
func WithTransport(fn TransportFunc) Option {
	return func(m *Manager) { m.transport = fn }
}

// NewManager creates a manager for the given servers. Nothing is started
// until Start.
func NewManager(servers map[string]config.MCPServerConfig, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		servers:   servers,
		transport: commandTransport,
		client:    sdkmcp.NewClient(&sdkmcp.Implementation{Name: "tandem", Version: "1.0.0"}, nil),
		logger:    logger.With().Str("component", "mcp").Logger(),
		running:   make(map[string]*server),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func commandTransport(name string, cfg config.MCPServerConfig) (sdkmcp.Transport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("mcp server %s has no command", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &sdkmcp.CommandTransport{Command: cmd}, nil
}

// Start connects every enabled server in parallel and registers its tools on
// reg. Individual server failures are logged and recorded, never returned.
func (m *Manager) Start(ctx context.Context, reg *tools.Registry) error {
	ctx, span := tracing.StartSpan(ctx, "tandem.mcp", "mcp.start", attribute.Int("servers", len(m.servers)))
	defer span.End()

	m.mu.Lock()
	m.registry = reg
	m.mu.Unlock()

	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*server, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		cfg := m.servers[name]
		g.Go(func() error {
			results[i] = m.connect(gctx, name, cfg)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range results {
		if s.session != nil {
			s.status.Tools = m.registerTools(ctx, s)
		}
		m.running[s.name] = s
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, name string, cfg config.MCPServerConfig) *server {
	s := &server{name: name, cfg: cfg, status: ServerStatus{Name: name}}
	if !cfg.Enabled {
		s.status.Status = StatusDisabled
		return s
	}

	logger := m.logger.With().Str("server", name).Logger()

	transport, err := m.transport(name, cfg)
	if err == nil {
		s.session, err = m.client.Connect(ctx, transport, nil)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to start MCP server")
		s.status.Status = StatusFailed
		s.status.Error = err.Error()
		return s
	}

	s.status.Status = StatusConnected
	logger.Info().Msg("MCP server connected")
	return s
}

// registerTools lists the server's tools and registers them. Callers hold m.mu.
func (m *Manager) registerTools(ctx context.Context, s *server) []string {
	logger := m.logger.With().Str("server", s.name).Logger()

	var registered []string
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to list MCP tools")
			s.status.Status = StatusFailed
			s.status.Error = err.Error()
			break
		}

		desc, err := m.descriptor(s, tool)
		if err != nil {
			logger.Warn().Err(err).Str("tool", tool.Name).Msg("Skipping MCP tool")
			continue
		}
		if err := m.registry.Register(desc); err != nil {
			logger.Warn().Err(err).Str("tool", desc.Name).Msg("Failed to register MCP tool")
			continue
		}
		registered = append(registered, desc.Name)
	}

	logger.Info().Int("tools", len(registered)).Msg("MCP tools registered")
	return registered
}

func (m *Manager) descriptor(s *server, tool *sdkmcp.Tool) (tools.Descriptor, error) {
	schema, err := toSchema(tool.InputSchema)
	if err != nil {
		return tools.Descriptor{}, err
	}

	description := tool.Description
	if description == "" {
		description = tool.Name
	}

	session := s.session
	remote := tool.Name
	return tools.Descriptor{
		Name:        s.name + ToolSeparator + tool.Name,
		Description: fmt.Sprintf("[MCP: %s] %s", s.name, description),
		Kind:        tools.KindMCP,
		Mutating:    tools.Always,
		Schema:      schema,
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			return callTool(ctx, session, remote, inv.Params)
		},
	}, nil
}

// toSchema normalizes an MCP input schema to a JSON object map.
func toSchema(in any) (map[string]interface{}, error) {
	if in == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	schema := map[string]interface{}{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]interface{}{}
	}
	return schema, nil
}

func callTool(ctx context.Context, session *sdkmcp.ClientSession, name string, params map[string]interface{}) tools.Result {
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return tools.Failure("mcp call failed: %v", err)
	}

	var parts []string
	for _, c := range res.Content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}

	out := strings.Join(parts, "\n")
	if res.IsError {
		r := tools.Failure("mcp tool reported an error")
		r.Output = out
		return r
	}
	return tools.Success(out)
}

// Servers returns the state of every configured server, sorted by name.
func (m *Manager) Servers() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for name := range m.servers {
		if s, ok := m.running[name]; ok {
			st := s.status
			st.Tools = append([]string(nil), s.status.Tools...)
			out = append(out, st)
			continue
		}
		out = append(out, ServerStatus{Name: name, Status: StatusStopped})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectedCount returns how many servers are connected.
func (m *Manager) ConnectedCount() int {
	n := 0
	for _, s := range m.Servers() {
		if s.Status == StatusConnected {
			n++
		}
	}
	return n
}

// Shutdown closes every client session and unregisters its tools.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.running {
		if m.registry != nil {
			for _, t := range s.status.Tools {
				m.registry.Unregister(t)
			}
		}
		if s.session != nil {
			if err := s.session.Close(); err != nil {
				m.logger.Debug().Err(err).Str("server", name).Msg("MCP session close")
			}
		}
		delete(m.running, name)
	}
	return nil
}
