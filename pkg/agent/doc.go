// Package agent runs conversation turns against a session.
//
// Invariants:
// - Turns are serialized per session through the session's turn gate.
// - Every event sequence ends in exactly one TEXT_COMPLETE or AGENT_ERROR.
// - Every TOOL_CALL_START is followed by exactly one TOOL_CALL_COMPLETE with the same call id.
// - Tool calls route through the session's tool registry only.
//
// Usage:
//
//	a := agent.New(sess, agent.WithLogger(logger))
//	for ev := range a.Run(ctx, "list the files here") {
//		fmt.Println(ev.Type)
//	}
package agent
