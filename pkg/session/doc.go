// Package session owns the live state of one agent conversation.
//
// Invariants:
// - Context history order never changes; mutation goes through ContextManager methods.
// - At most one PendingQuestion is open per Session, and only its owner channel can answer it.
// - Turns are serialized through the session's turn queue.
// - Shutdown is idempotent and cancels the running turn.
//
// Usage:
//
//	sess := session.New(session.Options{Config: cfg, Logger: logger})
//	if err := sess.Initialize(ctx); err != nil {
//		return err
//	}
//	defer sess.Shutdown(context.Background())
package session
