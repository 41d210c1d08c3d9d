package session

import (
	"time"

	"github.com/harun/tandem/pkg/llm"
)

// Snapshot is the persisted form of a session. It is never mutated after
// creation; stores hand out copies.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	TurnCount  int           `json:"turn_count"`
	Messages   []llm.Message `json:"messages"`
	TotalUsage llm.Usage     `json:"total_usage"`
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]llm.Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}
