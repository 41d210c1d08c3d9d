package agent

import (
	"encoding/json"

	"github.com/harun/tandem/pkg/tools"
)

// EventType discriminates events emitted during a turn.
type EventType string

const (
	EventTextDelta        EventType = "TEXT_DELTA"
	EventTextComplete     EventType = "TEXT_COMPLETE"
	EventToolCallStart    EventType = "TOOL_CALL_START"
	EventToolCallComplete EventType = "TOOL_CALL_COMPLETE"
	EventAgentError       EventType = "AGENT_ERROR"
)

// Event is one step of a turn. Which fields are set depends on Type.
type Event struct {
	Type EventType

	// TEXT_DELTA, TEXT_COMPLETE
	Content string

	// TOOL_CALL_START, TOOL_CALL_COMPLETE
	CallID    string
	Name      string
	Kind      tools.Kind
	Arguments map[string]interface{}

	// TOOL_CALL_COMPLETE
	Success   bool
	Output    string
	Metadata  map[string]interface{}
	Diff      string
	Truncated bool
	ExitCode  *int

	// TOOL_CALL_COMPLETE, AGENT_ERROR
	Error string
}

// IsTerminal reports whether e ends the sequence.
func (e Event) IsTerminal() bool {
	return e.Type == EventTextComplete || e.Type == EventAgentError
}

type textData struct {
	Content string `json:"content"`
}

type toolStartData struct {
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Kind      tools.Kind             `json:"kind,omitempty"`
	Arguments map[string]interface{} `json:"arguments"`
}

type toolCompleteData struct {
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Success   bool                   `json:"success"`
	Output    string                 `json:"output"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Diff      string                 `json:"diff,omitempty"`
	Truncated bool                   `json:"truncated"`
	ExitCode  *int                   `json:"exit_code,omitempty"`
}

type errorData struct {
	Error string `json:"error"`
}

// MarshalJSON encodes the event in its wire shape {"type": ..., "data": {...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	var data interface{}
	switch e.Type {
	case EventTextDelta, EventTextComplete:
		data = textData{Content: e.Content}
	case EventToolCallStart:
		args := e.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		data = toolStartData{CallID: e.CallID, Name: e.Name, Kind: e.Kind, Arguments: args}
	case EventToolCallComplete:
		data = toolCompleteData{
			CallID:    e.CallID,
			Name:      e.Name,
			Success:   e.Success,
			Output:    e.Output,
			Error:     e.Error,
			Metadata:  e.Metadata,
			Diff:      e.Diff,
			Truncated: e.Truncated,
			ExitCode:  e.ExitCode,
		}
	case EventAgentError:
		data = errorData{Error: e.Error}
	default:
		data = struct{}{}
	}

	return json.Marshal(struct {
		Type EventType   `json:"type"`
		Data interface{} `json:"data"`
	}{Type: e.Type, Data: data})
}

func toolStartEvent(callID, name string, kind tools.Kind, args map[string]interface{}) Event {
	return Event{Type: EventToolCallStart, CallID: callID, Name: name, Kind: kind, Arguments: args}
}

func toolCompleteEvent(callID, name string, kind tools.Kind, r tools.Result) Event {
	return Event{
		Type:      EventToolCallComplete,
		CallID:    callID,
		Name:      name,
		Kind:      kind,
		Success:   r.Success,
		Output:    r.Output,
		Error:     r.Error,
		Metadata:  r.Metadata,
		Diff:      r.Diff,
		Truncated: r.Truncated,
		ExitCode:  r.ExitCode,
	}
}
