package session

import (
	"sync"

	"github.com/harun/tandem/pkg/llm"
)

// ContextManager holds the ordered conversation history sent to the model.
type ContextManager struct {
	mu           sync.RWMutex
	systemPrompt string
	messages     []llm.Message
	usage        llm.Usage
}

// NewContextManager creates a history seeded with the system preamble.
func NewContextManager(systemPrompt string) *ContextManager {
	cm := &ContextManager{systemPrompt: systemPrompt}
	cm.seed()
	return cm
}

func (cm *ContextManager) seed() {
	cm.messages = cm.messages[:0]
	if cm.systemPrompt != "" {
		cm.messages = append(cm.messages, llm.Message{Role: llm.RoleSystem, Content: cm.systemPrompt})
	}
}

// SetSystemPrompt replaces the preamble, keeping the rest of the history.
func (cm *ContextManager) SetSystemPrompt(prompt string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.systemPrompt = prompt
	if len(cm.messages) > 0 && cm.messages[0].Role == llm.RoleSystem {
		if prompt == "" {
			cm.messages = cm.messages[1:]
		} else {
			cm.messages[0].Content = prompt
		}
		return
	}
	if prompt != "" {
		cm.messages = append([]llm.Message{{Role: llm.RoleSystem, Content: prompt}}, cm.messages...)
	}
}

// SystemPrompt returns the current preamble.
func (cm *ContextManager) SystemPrompt() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.systemPrompt
}

// AddUserMessage appends a user message.
func (cm *ContextManager) AddUserMessage(content string) {
	cm.append(llm.Message{Role: llm.RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant message with optional tool calls.
func (cm *ContextManager) AddAssistantMessage(content string, toolCalls []llm.ToolCall) {
	msg := llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: toolCalls}
	cm.append(msg.Clone())
}

// AddToolResult appends the result of the tool call callID.
func (cm *ContextManager) AddToolResult(callID, content string) {
	cm.append(llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: callID})
}

func (cm *ContextManager) append(msg llm.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, msg)
}

// Messages returns a copy of the history.
func (cm *ContextManager) Messages() []llm.Message {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]llm.Message, len(cm.messages))
	for i, m := range cm.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages, the preamble included.
func (cm *ContextManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.messages)
}

// AddUsage adds u to the running token totals.
func (cm *ContextManager) AddUsage(u llm.Usage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.usage = cm.usage.Add(u)
}

// TotalUsage returns the running token totals.
func (cm *ContextManager) TotalUsage() llm.Usage {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.usage
}

// SetTotalUsage overwrites the token totals. Only restore uses it.
func (cm *ContextManager) SetTotalUsage(u llm.Usage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.usage = u
}

// Clear drops the history and usage and re-seeds the preamble.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = nil
	cm.usage = llm.Usage{}
	cm.seed()
}

// EstimateTokens approximates the size of the history in tokens.
func (cm *ContextManager) EstimateTokens() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, m := range cm.messages {
		total += llm.EstimateTokens(m.Content) + 4
		for _, tc := range m.ToolCalls {
			total += llm.EstimateTokens(tc.Name) + llm.EstimateTokens(tc.ArgumentsJSON())
		}
	}
	return total
}
