package turnqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(policy Policy) *Queue {
	return New("test", policy, zerolog.Nop())
}

// blockingTask returns a task that signals started and blocks until release
// closes or its ctx ends.
func blockingTask(started chan<- struct{}, release <-chan struct{}) Task {
	return func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestQueue_Enqueue(t *testing.T) {
	q := newTestQueue(PolicyQueue)
	defer q.Close()

	executed := false
	err := q.Enqueue(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	}, nil)

	require.NoError(t, err)
	assert.True(t, executed)
}

func TestQueue_TaskError(t *testing.T) {
	q := newTestQueue(PolicyQueue)
	defer q.Close()

	expected := errors.New("task failed")
	err := q.Enqueue(context.Background(), func(ctx context.Context) error {
		return expected
	}, nil)

	assert.Equal(t, expected, err)
}

func TestQueue_SerialFIFO(t *testing.T) {
	q := newTestQueue(PolicyQueue)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Enqueue(context.Background(), blockingTask(started, release), nil)
	}()
	<-started

	var (
		mu     sync.Mutex
		order  []int
		active int
		maxAct int
		wg     sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		waited := make(chan struct{})
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxAct {
					maxAct = active
				}
				order = append(order, i)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			}, &Options{OnWait: func(int) { close(waited) }})
		}()
		// Enqueue one at a time so submission order is deterministic.
		<-waited
	}

	assert.Equal(t, 5, q.Pending())
	assert.True(t, q.Running())

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 1, maxAct)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_OnWait(t *testing.T) {
	t.Run("should not call OnWait when the gate is free", func(t *testing.T) {
		q := newTestQueue(PolicyQueue)
		defer q.Close()

		called := false
		err := q.Enqueue(context.Background(), func(ctx context.Context) error { return nil },
			&Options{OnWait: func(int) { called = true }})

		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("should report the position behind the running turn", func(t *testing.T) {
		q := newTestQueue(PolicyQueue)
		defer q.Close()

		started := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = q.Enqueue(context.Background(), blockingTask(started, release), nil)
		}()
		<-started

		positions := make(chan int, 1)
		done := make(chan error, 1)
		go func() {
			done <- q.Enqueue(context.Background(), func(ctx context.Context) error { return nil },
				&Options{OnWait: func(p int) { positions <- p }})
		}()

		assert.Equal(t, 1, <-positions)
		close(release)
		assert.NoError(t, <-done)
	})
}

func TestQueue_TryEnqueue(t *testing.T) {
	q := newTestQueue(PolicyReject)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- q.Submit(context.Background(), blockingTask(started, release), nil)
	}()
	<-started

	ran := false
	err := q.Submit(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}, nil)

	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)

	close(release)
	require.NoError(t, <-done)

	err = q.TryEnqueue(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestQueue_CallerCancelledWhileQueued(t *testing.T) {
	q := newTestQueue(PolicyQueue)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Enqueue(context.Background(), blockingTask(started, release), nil)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	waited := make(chan struct{})
	done := make(chan error, 1)
	ran := false
	go func() {
		done <- q.Enqueue(ctx, func(ctx context.Context) error {
			ran = true
			return nil
		}, &Options{OnWait: func(int) { close(waited) }})
	}()
	<-waited

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, q.Pending())

	close(release)
	assert.Eventually(t, func() bool { return !q.Running() }, time.Second, 5*time.Millisecond)
	assert.False(t, ran)
}

func TestQueue_Close(t *testing.T) {
	t.Run("should cancel the running task and reject queued ones", func(t *testing.T) {
		q := newTestQueue(PolicyQueue)

		started := make(chan struct{})
		never := make(chan struct{})
		running := make(chan error, 1)
		go func() {
			running <- q.Enqueue(context.Background(), blockingTask(started, never), nil)
		}()
		<-started

		waited := make(chan struct{})
		queued := make(chan error, 1)
		go func() {
			queued <- q.Enqueue(context.Background(), func(ctx context.Context) error { return nil },
				&Options{OnWait: func(int) { close(waited) }})
		}()
		<-waited

		require.NoError(t, q.Close())

		assert.ErrorIs(t, <-running, context.Canceled)
		assert.ErrorIs(t, <-queued, ErrClosed)
		assert.False(t, q.Running())
	})

	t.Run("should reject tasks after close", func(t *testing.T) {
		q := newTestQueue(PolicyQueue)
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())

		err := q.Enqueue(context.Background(), func(ctx context.Context) error { return nil }, nil)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, q.TryEnqueue(context.Background(), func(ctx context.Context) error { return nil }), ErrClosed)
	})
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyQueue, p)

	p, err = ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("drop")
	assert.Error(t, err)
}
