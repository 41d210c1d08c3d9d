package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/pkg/llm"
)

// Restore builds and initializes a new session carrying the identity and
// history of snap. The system preamble is regenerated, not restored.
func Restore(ctx context.Context, snap *Snapshot, opts Options) (*Session, error) {
	if snap == nil {
		return nil, errors.New("snapshot is nil")
	}
	if snap.SessionID == "" {
		return nil, errors.New("snapshot has no session id")
	}

	s := New(opts)
	s.id = snap.SessionID
	for _, m := range snap.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		s.context.append(m.Clone())
	}
	s.context.SetTotalUsage(snap.TotalUsage)
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.turnCount = snap.TurnCount

	// Initialize sees the restored history, so session:start hooks do too.
	if err := s.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize restored session: %w", err)
	}

	observability.RecordSessionAudit(ctx, "restore", s.id, "success", map[string]interface{}{
		"messages":   len(snap.Messages),
		"turn_count": snap.TurnCount,
	})
	s.logger.Info().Int("messages", s.context.Len()).Int("turns", snap.TurnCount).Msg("Session restored")
	return s, nil
}
