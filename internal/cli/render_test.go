package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/harun/tandem/pkg/agent"
	"github.com/harun/tandem/pkg/tools"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestRenderer(t *testing.T) {
	t.Run("should stream deltas and end the line on completion", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{Type: agent.EventTextDelta, Content: "Hel"})
		r.Render(agent.Event{Type: agent.EventTextDelta, Content: "lo"})
		r.Render(agent.Event{Type: agent.EventTextComplete, Content: "Hello"})

		assert.Equal(t, "\nassistant: Hello\n", buf.String())
	})

	t.Run("should print the final text when nothing streamed", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{Type: agent.EventTextComplete, Content: "done"})

		assert.Equal(t, "\nassistant: done\n", buf.String())
	})

	t.Run("should show tool kind and arguments on start", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{
			Type:      agent.EventToolCallStart,
			Name:      "shell",
			Kind:      tools.KindShell,
			Arguments: map[string]interface{}{"command": "ls -la", "timeout": 5},
		})

		out := buf.String()
		assert.Contains(t, out, "⏺ shell [shell]")
		assert.Contains(t, out, "  command: ls -la")
		assert.Contains(t, out, "  timeout: 5")
	})

	t.Run("should show exit code, error and truncation on completion", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)
		code := 2

		r.Render(agent.Event{
			Type:      agent.EventToolCallComplete,
			Name:      "shell",
			Success:   false,
			Output:    "boom",
			Error:     "command failed",
			ExitCode:  &code,
			Truncated: true,
		})

		out := buf.String()
		assert.Contains(t, out, "✗ shell (exit 2)")
		assert.Contains(t, out, "  command failed")
		assert.Contains(t, out, "  boom")
		assert.Contains(t, out, "[output truncated]")
	})

	t.Run("should prefer the diff over the output", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{
			Type:    agent.EventToolCallComplete,
			Name:    "write_file",
			Success: true,
			Output:  "wrote 3 bytes",
			Diff:    "--- a/x\n+++ b/x\n-old\n+new\n",
		})

		out := buf.String()
		assert.Contains(t, out, "✓ write_file")
		assert.Contains(t, out, "  -old\n  +new")
		assert.NotContains(t, out, "wrote 3 bytes")
	})

	t.Run("should close an open stream before tool output", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{Type: agent.EventTextDelta, Content: "let me look"})
		r.Render(agent.Event{Type: agent.EventToolCallStart, Name: "list_dir"})

		assert.Contains(t, buf.String(), "let me look\n\n⏺ list_dir")
	})

	t.Run("should print agent errors", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf)

		r.Render(agent.Event{Type: agent.EventAgentError, Error: "turn cancelled: context canceled"})

		assert.Equal(t, "\nError: turn cancelled: context canceled\n", buf.String())
	})
}

func TestPreview(t *testing.T) {
	t.Run("should keep short output intact", func(t *testing.T) {
		assert.Equal(t, "a\nb", preview("a\nb\n"))
	})

	t.Run("should cut long output by lines", func(t *testing.T) {
		long := ""
		for i := 0; i < 20; i++ {
			long += "line\n"
		}
		out := preview(long)
		assert.Equal(t, previewLines+1, len(bytes.Split([]byte(out), []byte("\n"))))
		assert.Contains(t, out, "…")
	})
}
