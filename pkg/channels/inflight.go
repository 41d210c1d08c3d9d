package channels

import (
	"context"
	"sync"
)

// Inflight runs message handlers under a shared cancellable context and lets
// Stop wait for them.
type Inflight struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders Go's wg.Add against Stop's wg.Wait.
	mu      sync.Mutex
	stopped bool
}

// NewInflight derives the handlers' context from parent.
func NewInflight(parent context.Context) *Inflight {
	ctx, cancel := context.WithCancel(parent)
	return &Inflight{ctx: ctx, cancel: cancel}
}

// Context is cancelled by Stop.
func (f *Inflight) Context() context.Context { return f.ctx }

// Go runs fn on a new goroutine. It is a no-op after Stop.
func (f *Inflight) Go(fn func(ctx context.Context)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.ctx.Err() != nil {
		return false
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn(f.ctx)
	}()
	return true
}

// Stop cancels the handlers' context and waits for them, or for ctx.
func (f *Inflight) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
