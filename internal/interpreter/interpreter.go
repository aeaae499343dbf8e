// Package interpreter is the execution controller: it ties the session
// registry, the code instrumentor, and the chunk assembler into the single
// public entry point for running code.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/session"
)

// ConfirmFunc decides whether a pending execution may run. It is called
// after the confirmation chunk has been emitted and may block on operator
// input; a false return (or context cancellation) aborts the execution
// before any code reaches a session.
type ConfirmFunc func(ctx context.Context, language, code string) bool

// Interpreter orchestrates executions against the session registry.
type Interpreter struct {
	registry *session.Registry
	confirm  ConfirmFunc
	log      *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithConfirm installs a confirmation gate. Without one, executions run
// immediately and no confirmation chunks are emitted.
func WithConfirm(fn ConfirmFunc) Option {
	return func(in *Interpreter) { in.confirm = fn }
}

// New creates an interpreter over a registry.
func New(registry *session.Registry, log *slog.Logger, opts ...Option) *Interpreter {
	in := &Interpreter{registry: registry, log: log}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Registry exposes the underlying session registry.
func (in *Interpreter) Registry() *session.Registry { return in.registry }

// Run executes one block of code in the named language and returns the chunk
// stream. The channel always closes; a successful execution is framed by
// console start/end chunks with any error chunk preceding the end. An
// unreachable runtime (missing binary, down kernel gateway) is the one
// error raised synchronously, since no execution ever begins. Cancelling ctx
// terminates the session and closes the stream without further chunks.
func (in *Interpreter) Run(ctx context.Context, language, code string) (<-chan protocol.Chunk, error) {
	if in.registry.Supported(language) {
		if err := in.registry.Preflight(language); err != nil {
			return nil, err
		}
	}

	ch := make(chan protocol.Chunk, 64)
	go in.run(ctx, language, code, ch)
	return ch, nil
}

func (in *Interpreter) run(ctx context.Context, language, code string, ch chan<- protocol.Chunk) {
	defer close(ch)

	send := func(c protocol.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !in.registry.Supported(language) {
		send(protocol.ErrorChunk(fmt.Sprintf("language %q is not supported", language)))
		return
	}

	if in.confirm != nil {
		if !send(protocol.ConfirmationChunk(language, code)) {
			return
		}
		if !in.confirm(ctx, language, code) || ctx.Err() != nil {
			in.log.Debug("execution declined", "language", language)
			return
		}
	}

	sess, err := in.registry.GetOrCreate(language)
	if err != nil {
		send(protocol.ErrorChunk(err.Error()))
		return
	}

	ex, err := sess.Execute(code)
	if err != nil {
		send(protocol.ErrorChunk(executeErrorText(language, err)))
		return
	}

	in.log.Debug("execution started", "language", language, "executionId", ex.ID)
	asm := newAssembler(ex.Markers, language)

	if !send(protocol.ConsoleStart()) {
		in.cancelExecution(sess, ex)
		return
	}

	for {
		select {
		case <-ctx.Done():
			in.log.Debug("execution cancelled", "executionId", ex.ID)
			in.cancelExecution(sess, ex)
			return

		case ev, ok := <-ex.Events():
			if !ok {
				for _, c := range asm.finish(ex.Err()) {
					if !send(c) {
						return
					}
				}
				send(protocol.ConsoleEnd())
				in.log.Debug("execution finished", "executionId", ex.ID, "error", ex.Err())
				return
			}
			for _, c := range asm.feed(ev) {
				if !send(c) {
					in.cancelExecution(sess, ex)
					return
				}
			}
		}
	}
}

// cancelExecution kills the session and drains the dying event stream so the
// collector goroutine is never blocked on a reader that walked away.
func (in *Interpreter) cancelExecution(sess session.Session, ex *session.Execution) {
	sess.Terminate()
	go func() {
		for range ex.Events() {
		}
	}()
}

// executeErrorText phrases an Execute failure for the error chunk,
// distinguishing problems with the environment from problems with timing.
func executeErrorText(language string, err error) string {
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		return fmt.Sprintf("the %s session is busy: an execution is already in flight; retry after it finishes", language)
	case errors.Is(err, session.ErrSpawnFailed):
		return fmt.Sprintf("could not start the %s runtime: %v", language, err)
	case errors.Is(err, session.ErrSessionTerminated):
		return fmt.Sprintf("the %s session was terminated; retry to get a fresh one", language)
	default:
		return err.Error()
	}
}
