package builtin

import (
	"context"
	"time"

	"github.com/harun/tandem/pkg/tools"
)

// AskUser pauses the turn until the human answers a question.
func AskUser() tools.Descriptor {
	return tools.Descriptor{
		Name:        "ask_user",
		Description: "Ask the user a question and wait for their textual response. Use it when you need information or a decision only the user can provide.",
		Kind:        tools.KindInteraction,
		Parameters: []tools.Parameter{
			{Name: "question", Type: "string", Description: "The question or prompt to display to the user.", Required: true},
		},
		// Humans are slow; the turn's own ctx still bounds the wait.
		Timeout: 30 * time.Minute,
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			if inv.AskUser == nil {
				return tools.Failure("ask_user is not supported in this environment")
			}
			answer, err := inv.AskUser(ctx, inv.String("question", ""))
			if err != nil {
				return tools.Failure("failed to get user input: %v", err)
			}
			return tools.Success(answer)
		},
	}
}
