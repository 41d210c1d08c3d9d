// Package channels holds what the user-facing channels share: the Channel
// lifecycle, a registry that starts and stops them together, in-flight
// handler tracking and message chunking.
package channels

import "context"

// Channel is a user-facing transport (cli, telegram) driving the current session.
type Channel interface {
	ID() string
	Start(ctx context.Context) error
	// Stop returns once the channel's in-flight handlers have finished.
	Stop(ctx context.Context) error
}
