package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/tandem/pkg/tools"
)

// AskUserResponder delivers a question to a human on one channel and returns
// the answer.
type AskUserResponder interface {
	ChannelID() string
	Ask(ctx context.Context, question string) (string, error)
}

// DeliverFunc shows an open question to the human.
type DeliverFunc func(ctx context.Context, q *PendingQuestion) error

// SlotResponder answers ask_user through the session's question slot. The
// channel's input path resolves it with AnswerQuestion.
type SlotResponder struct {
	Session *Session
	Channel string
	Deliver DeliverFunc
}

// ChannelID implements AskUserResponder
func (r *SlotResponder) ChannelID() string { return r.Channel }

// Ask implements AskUserResponder
func (r *SlotResponder) Ask(ctx context.Context, question string) (string, error) {
	return ask(ctx, r.Session, r.Channel, question, r.Deliver)
}

// The question is opened before delivery so an immediate reply finds it.
func ask(ctx context.Context, s *Session, owner, question string, deliver DeliverFunc) (string, error) {
	q, err := s.OpenQuestion(owner, question)
	if err != nil {
		return "", err
	}
	if deliver != nil {
		if err := deliver(ctx, q); err != nil {
			_ = q.Fail(fmt.Errorf("failed to deliver question: %w", err))
		}
	}
	return q.Wait(ctx)
}

// ConfirmPrompt renders the yes/no prompt for a confirmation request.
func ConfirmPrompt(req tools.ConfirmationRequest) string {
	return fmt.Sprintf("Allow %s? [y/N]", req.Summary())
}

// IsAffirmative reports whether answer approves a confirmation prompt.
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// SlotConfirmer asks for confirmation through the question slot, accepting
// "y" or "yes".
type SlotConfirmer struct {
	Session *Session
	Channel string
	Deliver DeliverFunc
}

// Confirm implements tools.Confirmer
func (c *SlotConfirmer) Confirm(ctx context.Context, req tools.ConfirmationRequest) (tools.ConfirmationResponse, error) {
	answer, err := ask(ctx, c.Session, c.Channel, ConfirmPrompt(req), c.Deliver)
	if err != nil {
		return tools.ConfirmationResponse{}, err
	}
	if IsAffirmative(answer) {
		return tools.ConfirmationResponse{Approved: true, Reason: "approved by " + c.Channel}, nil
	}
	return tools.ConfirmationResponse{Approved: false, Reason: "denied"}, nil
}
