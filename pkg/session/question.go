package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/tandem/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrQuestionPending is returned when a question is opened while another is unanswered.
	ErrQuestionPending = errors.New("another question is already pending")
	// ErrAlreadyResolved is returned when resolving a question a second time.
	ErrAlreadyResolved = errors.New("question already resolved")
	// ErrNoResponder is returned by AskUser when no channel is bound to answer.
	ErrNoResponder = errors.New("no ask-user responder bound")
	// ErrSessionClosed fails questions left open at shutdown.
	ErrSessionClosed = errors.New("session closed")
)

// PendingQuestion is a question waiting for its owner channel to answer.
type PendingQuestion struct {
	ID        string
	Owner     string
	Question  string
	CreatedAt time.Time

	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	answer   string
	err      error
	release  func(*PendingQuestion)
}

func newPendingQuestion(owner, question string, release func(*PendingQuestion)) *PendingQuestion {
	return &PendingQuestion{
		ID:        gonanoid.Must(10),
		Owner:     owner,
		Question:  question,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
		release:   release,
	}
}

// Resolve answers the question. Only the first call has an effect.
func (q *PendingQuestion) Resolve(answer string) error {
	return q.settle(answer, nil)
}

// Fail ends the question with err. Only the first resolution has an effect.
func (q *PendingQuestion) Fail(err error) error {
	return q.settle("", err)
}

func (q *PendingQuestion) settle(answer string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.resolved {
		return ErrAlreadyResolved
	}
	q.resolved = true
	q.answer = answer
	q.err = err
	close(q.done)
	return nil
}

// Done is closed once the question is resolved or failed.
func (q *PendingQuestion) Done() <-chan struct{} {
	return q.done
}

// Wait blocks until the question is resolved or ctx ends. Either way the
// session's slot is cleared.
func (q *PendingQuestion) Wait(ctx context.Context) (string, error) {
	defer q.release(q)

	select {
	case <-q.done:
	case <-ctx.Done():
		if q.settle("", ctx.Err()) == nil {
			observability.RecordQuestion("cancelled")
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	observability.RecordQuestion("answered")
	return q.answer, nil
}
