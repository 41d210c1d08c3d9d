package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Registry stores registered channels and drives their lifecycle.
type Registry struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
	started  map[string]bool
}

// NewRegistry constructs a channel registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:   logger.With().Str("component", "channels").Logger(),
		channels: make(map[string]Channel),
		started:  make(map[string]bool),
	}
}

// Register adds a channel to the registry.
func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is required")
	}

	id := strings.TrimSpace(ch.ID())
	if id == "" {
		return fmt.Errorf("channel id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[id]; exists {
		return fmt.Errorf("channel %q already registered", id)
	}

	r.channels[id] = ch
	return nil
}

// IsRegistered returns true when channel exists in the registry.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[strings.TrimSpace(id)]
	return ok
}

// IDs returns sorted registered channel ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether the channel has been started and not stopped.
func (r *Registry) Running(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started[id]
}

// StartAll starts all registered channels in id order. It stops at the
// first failure, stopping the channels it already started.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, id := range r.IDs() {
		if err := r.Start(ctx, id); err != nil {
			if stopErr := r.StopAll(ctx); stopErr != nil {
				r.logger.Warn().Err(stopErr).Msg("Failed to stop channels after start failure")
			}
			return err
		}
	}
	return nil
}

// StopAll stops every started channel concurrently and waits for all of them.
// The first error is returned.
func (r *Registry) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, id := range r.IDs() {
		id := id
		g.Go(func() error {
			return r.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// Start starts a registered channel by id.
func (r *Registry) Start(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("channel id is required")
	}

	r.mu.Lock()
	ch, ok := r.channels[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", id)
	}
	if r.started[id] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start channel %q: %w", id, err)
	}

	r.mu.Lock()
	r.started[id] = true
	r.mu.Unlock()

	r.logger.Info().Str("channel", id).Msg("Channel started")
	return nil
}

// Stop stops a registered channel by id.
func (r *Registry) Stop(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("channel id is required")
	}

	r.mu.Lock()
	ch, ok := r.channels[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", id)
	}
	if !r.started[id] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := ch.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop channel %q: %w", id, err)
	}

	r.mu.Lock()
	delete(r.started, id)
	r.mu.Unlock()

	r.logger.Info().Str("channel", id).Msg("Channel stopped")
	return nil
}
