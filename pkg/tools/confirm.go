package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/rs/zerolog"
)

// ConfirmationRequest describes a mutating tool call awaiting approval.
type ConfirmationRequest struct {
	Tool   string                 `json:"tool"`
	CallID string                 `json:"call_id"`
	Kind   Kind                   `json:"kind"`
	Params map[string]interface{} `json:"params"`
	Reason string                 `json:"reason,omitempty"`
}

// ConfirmationResponse is the human's decision.
type ConfirmationResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Confirmer asks the human to approve a tool call.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)

// Confirm implements Confirmer
func (f ConfirmerFunc) Confirm(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
	return f(ctx, req)
}

// Summary renders the request as a one-line prompt, e.g. `shell: ls -la`.
func (r ConfirmationRequest) Summary() string {
	for _, key := range []string{"command", "path", "url", "file_path"} {
		if v, ok := r.Params[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", r.Tool, v)
		}
	}
	return r.Tool
}

// authorize applies the approval policy to a call. It returns nil when the
// call may run, otherwise the failed result to report.
func authorize(ctx context.Context, desc *Descriptor, inv Invocation, logger zerolog.Logger) *Result {
	if !desc.IsMutating(inv.Params) {
		return nil
	}

	actor := tracing.GetChannel(ctx)
	policy := inv.Approval
	if policy == "" {
		policy = config.ApprovalOnRequest
	}

	switch policy {
	case config.ApprovalAuto:
		return nil
	case config.ApprovalNever:
		observability.RecordConfirmation(false)
		observability.RecordConfirmationAudit(ctx, desc.Name, actor, false, "approval policy is never")
		r := Failure("rejected by approval policy: mutating tools are disabled")
		return &r
	}

	// Approval pauses only when someone can answer. The never policy is the
	// way to forbid mutating calls outright.
	if inv.Confirm == nil {
		logger.Debug().Str("tool", desc.Name).Str("call_id", inv.CallID).Msg("No confirmation responder bound, running without approval")
		return nil
	}

	req := ConfirmationRequest{
		Tool:   desc.Name,
		CallID: inv.CallID,
		Kind:   desc.Kind,
		Params: inv.Params,
		Reason: fmt.Sprintf("%s tool %s modifies the environment", desc.Kind, desc.Name),
	}

	logger.Info().Str("tool", desc.Name).Str("call_id", inv.CallID).Msg("Requesting confirmation")

	resp, err := inv.Confirm.Confirm(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Str("tool", desc.Name).Msg("Confirmation failed")
		observability.RecordConfirmation(false)
		observability.RecordConfirmationAudit(ctx, desc.Name, actor, false, err.Error())
		r := Failure("rejected by user: %v", err)
		return &r
	}

	observability.RecordConfirmation(resp.Approved)
	observability.RecordConfirmationAudit(ctx, desc.Name, actor, resp.Approved, resp.Reason)
	if resp.Approved {
		return nil
	}

	reason := strings.TrimSpace(resp.Reason)
	if reason == "" {
		reason = "denied"
	}
	logger.Info().Str("tool", desc.Name).Str("reason", reason).Msg("Tool call rejected")
	r := Failure("rejected by user: %s", reason)
	return &r
}
