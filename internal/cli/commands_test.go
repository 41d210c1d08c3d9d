package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/harun/tandem/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testApp, *Commands) {
		provider := &scriptedProvider{
			steps:  []step{say("ok")},
			models: []string{"gpt-4o", "gpt-4o-mini"},
		}
		app := newTestApp(t, provider, nil)
		return app, NewCommands(app.App)
	}

	t.Run("should list every command in help", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/help"))

		for _, name := range cmds.Names() {
			assert.Contains(t, app.out.String(), name)
		}
	})

	t.Run("should exit on /exit and /quit", func(t *testing.T) {
		_, cmds := setup(t)
		assert.ErrorIs(t, cmds.Execute(ctx, "/exit"), errExit)
		assert.ErrorIs(t, cmds.Execute(ctx, "/QUIT"), errExit)
	})

	t.Run("should report unknown commands", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/bogus arg"))

		assert.Contains(t, app.out.String(), "Unknown command: /bogus")
	})

	t.Run("should clear the conversation", func(t *testing.T) {
		app, cmds := setup(t)
		_, err := app.RunTurn(ctx, "hi")
		require.NoError(t, err)

		require.NoError(t, cmds.Execute(ctx, "/clear"))

		assert.Equal(t, 1, app.Session().Context().Len())
		assert.Contains(t, app.out.String(), "Conversation cleared")
	})

	t.Run("should show the configuration", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/config"))

		out := app.out.String()
		assert.Contains(t, out, "Model: gpt-4o-mini")
		assert.Contains(t, out, "Approval: on-request")
		assert.Contains(t, out, "Working Dir: "+app.Session().Settings().WorkingDir)
	})

	t.Run("should list models and mark the current one", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/model"))

		assert.Contains(t, app.out.String(), "* gpt-4o-mini")
		assert.Contains(t, app.out.String(), "  gpt-4o\n")
	})

	t.Run("should switch the model", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/model llama3"))

		assert.Equal(t, "llama3", app.Session().Settings().Model)
		assert.Contains(t, app.out.String(), "Model changed to: llama3")
	})

	t.Run("should change and validate the approval policy", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/approval never"))
		assert.Equal(t, config.ApprovalNever, app.Session().Settings().Approval)

		require.NoError(t, cmds.Execute(ctx, "/approval sometimes"))
		out := app.out.String()
		assert.Contains(t, out, "Incorrect approval policy: sometimes")
		assert.Contains(t, out, "Valid options: on-request, auto, never")
		assert.Equal(t, config.ApprovalNever, app.Session().Settings().Approval)

		require.NoError(t, cmds.Execute(ctx, "/approval"))
		assert.Contains(t, app.out.String(), "Current approval policy: never")
	})

	t.Run("should show stats, tools and mcp servers", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/stats"))
		require.NoError(t, cmds.Execute(ctx, "/tools"))
		require.NoError(t, cmds.Execute(ctx, "/mcp"))

		out := app.out.String()
		assert.Contains(t, out, "turn_count: 0")
		assert.Contains(t, out, "• read_file [read]")
		assert.Contains(t, out, "MCP Servers (0)")
	})

	t.Run("should save and list sessions", func(t *testing.T) {
		app, cmds := setup(t)
		id := app.Session().ID()

		require.NoError(t, cmds.Execute(ctx, "/save"))
		require.NoError(t, cmds.Execute(ctx, "/sessions"))

		out := app.out.String()
		assert.Contains(t, out, "Session saved: "+id)
		assert.Contains(t, out, "• "+id+" (turns: 0")
	})

	t.Run("should resume a saved session", func(t *testing.T) {
		app, cmds := setup(t)
		_, err := app.RunTurn(ctx, "remember me")
		require.NoError(t, err)
		require.NoError(t, cmds.Execute(ctx, "/save"))
		old := app.Session()
		id := old.ID()

		require.NoError(t, cmds.Execute(ctx, "/resume "+id))

		assert.NotSame(t, old, app.Session())
		assert.Equal(t, id, app.Session().ID())
		assert.Equal(t, 1, app.Session().TurnCount())
		assert.Contains(t, app.out.String(), "Resumed session: "+id)
	})

	t.Run("should refuse to resume without an id or an unknown one", func(t *testing.T) {
		app, cmds := setup(t)
		before := app.Session()

		require.NoError(t, cmds.Execute(ctx, "/resume"))
		require.NoError(t, cmds.Execute(ctx, "/resume nope"))

		out := app.out.String()
		assert.Contains(t, out, "Usage: /resume <session_id>")
		assert.Contains(t, out, "Session does not exist: nope")
		assert.Same(t, before, app.Session())
	})

	t.Run("should create, list and restore checkpoints", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/checkpoint"))
		out := app.out.String()
		idx := strings.Index(out, "Checkpoint created: ")
		require.GreaterOrEqual(t, idx, 0)
		id := strings.TrimSpace(strings.SplitN(out[idx+len("Checkpoint created: "):], "\n", 2)[0])

		require.NoError(t, cmds.Execute(ctx, "/checkpoints"))
		assert.Contains(t, app.out.String(), "• "+id)

		require.NoError(t, cmds.Execute(ctx, "/restore "+id))
		assert.Contains(t, app.out.String(), "checkpoint: "+id)
	})

	t.Run("should report a missing checkpoint", func(t *testing.T) {
		app, cmds := setup(t)

		require.NoError(t, cmds.Execute(ctx, "/restore nope"))
		require.NoError(t, cmds.Execute(ctx, "/restore"))

		out := app.out.String()
		assert.Contains(t, out, "Checkpoint does not exist: nope")
		assert.Contains(t, out, "Usage: /restore <checkpoint_id>")
	})
}
