package cli

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// REPL dispatches terminal input. A line first answers a pending question,
// then runs as a slash command, and otherwise starts a turn in the
// background so input stays live while the agent works.
type REPL struct {
	app      *App
	commands *Commands

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	turns   sync.WaitGroup
}

// NewREPL creates a REPL for app.
func NewREPL(app *App) *REPL {
	return &REPL{
		app:      app,
		commands: NewCommands(app),
		cancels:  make(map[int]context.CancelFunc),
	}
}

// Commands returns the slash-command table.
func (r *REPL) Commands() *Commands { return r.commands }

// Run consumes lines until the input ends, /exit is entered or ctx is done.
// Running turns are cancelled and awaited before it returns.
func (r *REPL) Run(ctx context.Context, lines <-chan string, interrupts <-chan struct{}) error {
	defer func() {
		r.Interrupt()
		r.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			if !r.Interrupt() {
				r.app.render.Dim("Use /exit to quit")
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, line); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				return err
			}
		}
	}
}

// Handle dispatches one line of input.
func (r *REPL) Handle(ctx context.Context, line string) error {
	text := strings.TrimSpace(line)
	if strings.HasPrefix(text, "/") {
		return r.commands.Execute(ctx, text)
	}
	if r.app.Answer(text) {
		return nil
	}
	if text == "" {
		return nil
	}
	r.startTurn(ctx, text)
	return nil
}

func (r *REPL) startTurn(ctx context.Context, message string) {
	turnCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.turns.Add(1)
	go func() {
		defer r.turns.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
			cancel()
		}()
		if _, err := r.app.RunTurn(turnCtx, message); err != nil {
			r.app.logger.Debug().Err(err).Msg("Turn ended with error")
		}
	}()
}

// Interrupt cancels every running or queued turn. It reports whether there
// was one.
func (r *REPL) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cancels)
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	return n > 0
}

// Wait blocks until every started turn has finished.
func (r *REPL) Wait() { r.turns.Wait() }
