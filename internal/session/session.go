// Package session owns the persistent per-language execution contexts. Each
// Session wraps exactly one child process or kernel connection; its output is
// pumped by background readers into an unbounded queue and exposed per
// execution as a pull-based stream of OutputEvents.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/instrument"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateExecuting  State = "executing"
	StateTerminated State = "terminated"
)

// Stream identifies which child stream an OutputEvent came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// OutputEvent is one raw fragment read from the child process. Fragments
// from the same stream preserve arrival order; stdout and stderr are only
// ordered relative to each other by arrival time.
type OutputEvent struct {
	Stream Stream
	Text   string
	Time   time.Time
}

// Session errors.
var (
	// ErrSessionBusy rejects an Execute while another is in flight. The
	// engine never queues; callers serialize their own requests.
	ErrSessionBusy = errors.New("session busy: an execution is already in flight")

	// ErrSessionTerminated rejects operations on a dead session. The
	// registry replaces terminated sessions on the next GetOrCreate.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrSpawnFailed wraps failures to start the underlying process or
	// kernel, typically a missing runtime binary.
	ErrSpawnFailed = errors.New("process spawn failed")

	// ErrProcessCrashed marks an unexpected child exit mid-execution.
	ErrProcessCrashed = errors.New("process exited unexpectedly")

	// ErrLanguageNotSupported is returned by the registry for languages
	// with no registered factory.
	ErrLanguageNotSupported = errors.New("language not supported")
)

// Session is one persistent execution context for a single language.
// Implementations must reject concurrent executions with ErrSessionBusy and
// must transition to StateTerminated (never silently restart) when their
// process dies.
type Session interface {
	// Language returns the language identifier this session serves.
	Language() string

	// State returns the current lifecycle state.
	State() State

	// Start spawns the underlying process or kernel connection. Calling
	// Start on an already-started session is a no-op. Execute starts
	// lazily, so most callers never call Start directly.
	Start() error

	// Execute feeds one block of code to the session and returns a live
	// execution whose event stream ends when the completion sentinel is
	// observed, the process exits, or the session is terminated.
	Execute(code string) (*Execution, error)

	// Terminate forcibly kills the process and moves the session to
	// StateTerminated. Idempotent.
	Terminate()
}

// Execution is the pull-based event stream for one code submission.
type Execution struct {
	// ID uniquely identifies this execution.
	ID string

	// Markers are the sentinels instrumented into this execution's code;
	// the assembler uses them to classify output lines.
	Markers instrument.Markers

	events chan OutputEvent

	mu  sync.Mutex
	err error
	fin bool
}

func newExecution(id string, m instrument.Markers) *Execution {
	return &Execution{
		ID:      id,
		Markers: m,
		events:  make(chan OutputEvent, 64),
	}
}

// Events returns the event stream. The channel is closed when the execution
// finishes for any reason; check Err afterwards to distinguish a clean end
// from a crash.
func (e *Execution) Events() <-chan OutputEvent {
	return e.events
}

// Err reports the terminal error, if any, once Events is closed.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// emit forwards one event unless the execution already finished.
func (e *Execution) emit(ev OutputEvent) {
	e.mu.Lock()
	if e.fin {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.events <- ev
}

// finish closes the event stream exactly once, recording err.
func (e *Execution) finish(err error) {
	e.mu.Lock()
	if e.fin {
		e.mu.Unlock()
		return
	}
	e.fin = true
	e.err = err
	e.mu.Unlock()
	close(e.events)
}
