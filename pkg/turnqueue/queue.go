package turnqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrBusy is returned by TryEnqueue while another task holds the gate.
	ErrBusy = errors.New("another turn is in progress")
	// ErrClosed is returned for tasks submitted to, or still queued in, a closed queue.
	ErrClosed = errors.New("turn queue closed")
)

// Policy decides what happens to a turn submitted while another is running.
type Policy string

const (
	// PolicyQueue waits for the running turn to finish.
	PolicyQueue Policy = "queue"
	// PolicyReject fails the new turn immediately.
	PolicyReject Policy = "reject"
)

// ParsePolicy converts a config value to a Policy. Empty means PolicyQueue.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyQueue, "":
		return PolicyQueue, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("invalid turn policy %q", s)
	}
}

// Task is one unit of serialized work.
type Task func(ctx context.Context) error

// Options configures a single Enqueue call.
type Options struct {
	// OnWait is called once, before waiting, when the task cannot start immediately.
	// position is the number of tasks ahead of it, the running one included.
	OnWait func(position int)
}

type record struct {
	id         int
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	done       chan error
}

// Queue is a FIFO gate with concurrency 1.
type Queue struct {
	name   string
	policy Policy
	logger zerolog.Logger

	mu      sync.Mutex
	seq     int
	queue   []*record
	running *record
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. name labels logs and spans, usually the session id.
func New(name string, policy Policy, logger zerolog.Logger) *Queue {
	observability.EnsureRegistered()
	if policy == "" {
		policy = PolicyQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:   name,
		policy: policy,
		logger: logger.With().Str("component", "turnqueue").Str("session_id", name).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Policy returns the queue's policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Submit runs task according to the queue's policy.
func (q *Queue) Submit(ctx context.Context, task Task, opts *Options) error {
	if q.policy == PolicyReject {
		return q.TryEnqueue(ctx, task)
	}
	return q.Enqueue(ctx, task, opts)
}

// Enqueue waits for the gate, runs task and returns its error. A caller whose
// ctx ends while still queued is removed from the queue.
func (q *Queue) Enqueue(ctx context.Context, task Task, opts *Options) error {
	return q.enqueue(ctx, task, opts, false)
}

// TryEnqueue runs task only when the gate is free, otherwise it returns ErrBusy.
func (q *Queue) TryEnqueue(ctx context.Context, task Task) error {
	return q.enqueue(ctx, task, nil, true)
}

func (q *Queue) enqueue(ctx context.Context, task Task, opts *Options, exclusive bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "tandem.turnqueue", "turnqueue.enqueue",
		attribute.String("queue", q.name),
		attribute.Bool("exclusive", exclusive),
	)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		tracing.EndSpan(span, ErrClosed)
		return ErrClosed
	}
	if exclusive && (q.running != nil || len(q.queue) > 0) {
		q.mu.Unlock()
		observability.RecordQueueReject()
		q.logger.Debug().Msg("Turn rejected, gate busy")
		tracing.EndSpan(span, ErrBusy)
		return ErrBusy
	}

	q.seq++
	rec := &record{
		id:         q.seq,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}
	q.queue = append(q.queue, rec)
	ahead := len(q.queue) - 1
	if q.running != nil {
		ahead++
	}
	observability.SetQueueSize(len(q.queue))
	q.dispatchLocked()
	q.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, q.logger)
	if ahead > 0 {
		logger.Debug().Int("task", rec.id).Int("ahead", ahead).Msg("Turn queued")
		if opts != nil && opts.OnWait != nil {
			opts.OnWait(ahead)
		}
	}

	select {
	case err := <-rec.done:
		tracing.EndSpan(span, err)
		return err
	case <-ctx.Done():
		if q.remove(rec) {
			err := ctx.Err()
			tracing.EndSpan(span, err)
			return err
		}
		// Already started; the task observes the same ctx.
		err := <-rec.done
		tracing.EndSpan(span, err)
		return err
	}
}

// dispatchLocked starts the head of the queue when nothing is running.
func (q *Queue) dispatchLocked() {
	if q.running != nil || len(q.queue) == 0 || q.closed {
		return
	}

	rec := q.queue[0]
	q.queue = q.queue[1:]
	q.running = rec
	observability.SetQueueSize(len(q.queue))
	observability.RecordQueueWait(time.Since(rec.enqueuedAt), len(q.queue))

	q.wg.Add(1)
	go q.execute(rec)
}

func (q *Queue) execute(rec *record) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(rec.ctx)
	stop := context.AfterFunc(q.ctx, cancel)

	start := time.Now()
	err := rec.task(runCtx)
	stop()
	cancel()

	logger := tracing.LoggerFromContext(rec.ctx, q.logger)
	if err != nil {
		logger.Debug().Int("task", rec.id).Dur("duration", time.Since(start)).Err(err).Msg("Turn finished with error")
	} else {
		logger.Debug().Int("task", rec.id).Dur("duration", time.Since(start)).Msg("Turn finished")
	}

	q.mu.Lock()
	q.running = nil
	rec.done <- err
	q.dispatchLocked()
	q.mu.Unlock()
}

func (q *Queue) remove(rec *record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.queue {
		if r == rec {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			observability.SetQueueSize(len(q.queue))
			return true
		}
	}
	return false
}

// Pending returns the number of tasks waiting behind the running one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Running reports whether a task currently holds the gate.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running != nil
}

// Close rejects queued tasks with ErrClosed, cancels the running task and
// waits for it to return. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return nil
	}
	q.closed = true
	queued := q.queue
	q.queue = nil
	observability.SetQueueSize(0)
	q.mu.Unlock()

	for _, rec := range queued {
		rec.done <- ErrClosed
	}
	if len(queued) > 0 {
		q.logger.Info().Int("rejected", len(queued)).Msg("Rejected queued turns on close")
	}

	q.cancel()
	q.wg.Wait()
	return nil
}
