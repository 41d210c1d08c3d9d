package session

import (
	"context"
	"sync"
)

// Handle is the shared slot through which channels reach the current session.
type Handle struct {
	mu      sync.RWMutex
	current *Session
	swapMu  sync.Mutex
}

// NewHandle publishes s as the current session.
func NewHandle(s *Session) *Handle {
	return &Handle{current: s}
}

// Current returns the current session.
func (h *Handle) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Swap shuts the current session down and then publishes next. The old
// session's shutdown error is returned, but next is published regardless.
func (h *Handle) Swap(ctx context.Context, next *Session) error {
	h.swapMu.Lock()
	defer h.swapMu.Unlock()

	old := h.Current()
	var err error
	if old != nil && old != next {
		err = old.Shutdown(ctx)
	}

	h.mu.Lock()
	h.current = next
	h.mu.Unlock()
	return err
}

// Shutdown shuts down the current session.
func (h *Handle) Shutdown(ctx context.Context) error {
	if s := h.Current(); s != nil {
		return s.Shutdown(ctx)
	}
	return nil
}
