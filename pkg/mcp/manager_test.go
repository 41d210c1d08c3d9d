package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/pkg/tools"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name" jsonschema:"who to greet"`
}

func newTestServer() *sdkmcp.Server {
	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "greet", Description: "Greet someone"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in greetInput) (*sdkmcp.CallToolResult, any, error) {
			if in.Name == "nobody" {
				return nil, nil, errors.New("cannot greet nobody")
			}
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "hello " + in.Name}},
			}, nil, nil
		})
	return srv
}

// inMemory connects "good" to an in-process server and fails every other name.
func inMemory(t *testing.T) TransportFunc {
	return func(name string, cfg config.MCPServerConfig) (sdkmcp.Transport, error) {
		if name != "good" {
			return nil, errors.New("spawn failed")
		}
		clientT, serverT := sdkmcp.NewInMemoryTransports()
		ss, err := newTestServer().Connect(context.Background(), serverT, nil)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { _ = ss.Close() })
		return clientT, nil
	}
}

func TestManager(t *testing.T) {
	servers := map[string]config.MCPServerConfig{
		"good": {Command: "unused", Enabled: true},
		"bad":  {Command: "unused", Enabled: true},
		"off":  {Command: "unused"},
	}
	reg := tools.NewRegistry(zerolog.Nop())
	m := NewManager(servers, zerolog.Nop(), WithTransport(inMemory(t)))

	require.NoError(t, m.Start(context.Background(), reg))

	t.Run("should report per-server status", func(t *testing.T) {
		st := m.Servers()
		require.Len(t, st, 3)
		assert.Equal(t, "bad", st[0].Name)
		assert.Equal(t, StatusFailed, st[0].Status)
		assert.Contains(t, st[0].Error, "spawn failed")
		assert.Equal(t, StatusConnected, st[1].Status)
		assert.Equal(t, []string{"good__greet"}, st[1].Tools)
		assert.Equal(t, StatusDisabled, st[2].Status)
		assert.Equal(t, 1, m.ConnectedCount())
	})

	t.Run("should register prefixed mutating tools", func(t *testing.T) {
		desc, ok := reg.Get("good__greet")
		require.True(t, ok)
		assert.Equal(t, tools.KindMCP, desc.Kind)
		assert.True(t, desc.IsMutating(nil))
		assert.Contains(t, desc.Description, "Greet someone")
	})

	t.Run("should call the remote tool", func(t *testing.T) {
		res := reg.Execute(context.Background(), "good__greet", tools.Invocation{
			Params:   map[string]interface{}{"name": "ada"},
			Approval: config.ApprovalAuto,
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "hello ada", res.Output)

		res = reg.Execute(context.Background(), "good__greet", tools.Invocation{
			Params:   map[string]interface{}{"name": "nobody"},
			Approval: config.ApprovalAuto,
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Output, "cannot greet nobody")
	})

	t.Run("should unregister tools on shutdown", func(t *testing.T) {
		require.NoError(t, m.Shutdown(context.Background()))
		_, ok := reg.Get("good__greet")
		assert.False(t, ok)
		for _, st := range m.Servers() {
			assert.Equal(t, StatusStopped, st.Status)
		}
	})
}

func TestToSchema(t *testing.T) {
	s, err := toSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, "object", s["type"])

	s, err = toSchema(map[string]any{"properties": map[string]any{"q": map[string]any{"type": "string"}}, "required": []string{"q"}})
	require.NoError(t, err)
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []interface{}{"q"}, s["required"])
}

func TestCommandTransportRequiresCommand(t *testing.T) {
	_, err := commandTransport("x", config.MCPServerConfig{})
	assert.Error(t, err)

	tr, err := commandTransport("x", config.MCPServerConfig{Command: "echo", Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	ct := tr.(*sdkmcp.CommandTransport)
	assert.Contains(t, ct.Command.Env, "A=1")
}
