package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/tandem/internal/config"
)

// AskUserFunc asks the human driving the current turn a question and waits for
// the answer.
type AskUserFunc func(ctx context.Context, question string) (string, error)

// Invocation carries one tool call and the capabilities bound to the turn that
// issued it.
type Invocation struct {
	CallID     string
	Params     map[string]interface{}
	WorkingDir string
	AskUser    AskUserFunc
	Confirm    Confirmer
	Approval   config.ApprovalPolicy
}

// Result is the outcome of a tool call.
type Result struct {
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Diff      string                 `json:"diff,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	ExitCode  *int                   `json:"exit_code,omitempty"`
}

// Success builds a successful result.
func Success(output string) Result {
	return Result{Success: true, Output: output}
}

// Failure builds a failed result.
func Failure(format string, args ...interface{}) Result {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Result{Success: false, Error: msg}
}

// WithMetadata sets key on the result metadata and returns the result.
func (r Result) WithMetadata(key string, value interface{}) Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
	return r
}

// ModelContent is what the model sees as the tool message content.
func (r Result) ModelContent() string {
	if r.Success {
		if r.Output == "" {
			return "(no output)"
		}
		return r.Output
	}
	if r.Output != "" {
		return "Error: " + r.Error + "\n" + r.Output
	}
	return "Error: " + r.Error
}

// String returns the string parameter name, or def when absent.
func (inv Invocation) String(name, def string) string {
	if v, ok := inv.Params[name].(string); ok {
		return v
	}
	return def
}

// Int returns the integer parameter name, or def when absent or unparsable.
// Numbers decoded from JSON arrive as float64.
func (inv Invocation) Int(name string, def int) int {
	switch v := inv.Params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
