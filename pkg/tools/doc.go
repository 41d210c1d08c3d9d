// Package tools holds the tool registry and the invocation contract shared by
// built-in and MCP tools.
//
// Invariants:
// - Tool names are unique within a Registry.
// - Tool failures are reported as Result values, never as Go errors.
// - Mutating calls pass the approval policy before their handler runs.
package tools
