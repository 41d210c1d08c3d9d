// Package turnqueue serializes agent turns for one session.
//
// Invariants:
// - At most one task runs at a time.
// - Queued tasks run in FIFO order.
// - Close cancels the running task and rejects everything still queued.
//
// Usage:
//
//	q := turnqueue.New("session-id", turnqueue.PolicyQueue, logger)
//	defer q.Close()
//	err := q.Enqueue(ctx, func(ctx context.Context) error {
//		return runTurn(ctx)
//	}, nil)
package turnqueue
