package session

import (
	"testing"

	"github.com/harun/tandem/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextManager(t *testing.T) {
	t.Run("should keep messages in order", func(t *testing.T) {
		cm := NewContextManager("system")
		cm.AddUserMessage("hi")
		cm.AddAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "list_dir", Arguments: map[string]interface{}{"path": "."}}})
		cm.AddToolResult("c1", "a.txt")
		cm.AddAssistantMessage("done", nil)

		msgs := cm.Messages()
		require.Len(t, msgs, 5)
		roles := []llm.Role{}
		for _, m := range msgs {
			roles = append(roles, m.Role)
		}
		assert.Equal(t, []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}, roles)
		assert.Equal(t, "c1", msgs[3].ToolCallID)
	})

	t.Run("should return a copy of the history", func(t *testing.T) {
		cm := NewContextManager("")
		cm.AddAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "x", Arguments: map[string]interface{}{"k": "v"}}})

		msgs := cm.Messages()
		msgs[0].Content = "changed"
		msgs[0].ToolCalls[0].Arguments["k"] = "changed"

		again := cm.Messages()
		assert.Empty(t, again[0].Content)
		assert.Equal(t, "v", again[0].ToolCalls[0].Arguments["k"])
	})

	t.Run("should accumulate usage", func(t *testing.T) {
		cm := NewContextManager("")
		cm.AddUsage(llm.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3})
		cm.AddUsage(llm.Usage{InputTokens: 4, OutputTokens: 5, TotalTokens: 9})
		assert.Equal(t, llm.Usage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}, cm.TotalUsage())

		cm.SetTotalUsage(llm.Usage{TotalTokens: 1})
		assert.Equal(t, 1, cm.TotalUsage().TotalTokens)
	})

	t.Run("should re-seed the preamble on clear", func(t *testing.T) {
		cm := NewContextManager("system")
		cm.AddUserMessage("hi")
		cm.AddUsage(llm.Usage{TotalTokens: 3})

		cm.Clear()

		msgs := cm.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "system", msgs[0].Content)
		assert.Zero(t, cm.TotalUsage())
	})

	t.Run("should replace the preamble in place", func(t *testing.T) {
		cm := NewContextManager("")
		cm.AddUserMessage("hi")

		cm.SetSystemPrompt("first")
		cm.SetSystemPrompt("second")

		msgs := cm.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "second", msgs[0].Content)
		assert.Equal(t, "hi", msgs[1].Content)

		cm.SetSystemPrompt("")
		assert.Equal(t, 1, cm.Len())
	})

	t.Run("should estimate tokens", func(t *testing.T) {
		cm := NewContextManager("")
		assert.Zero(t, cm.EstimateTokens())
		cm.AddUserMessage("12345678")
		assert.Equal(t, 6, cm.EstimateTokens())
	})
}
