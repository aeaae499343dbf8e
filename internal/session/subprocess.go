package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/instrument"
)

// killGrace is how long Terminate waits after SIGTERM before SIGKILL.
const killGrace = 500 * time.Millisecond

// Profile describes how to run one language as a persistent subprocess.
type Profile struct {
	// Name is the language identifier.
	Name string

	// Command launches the interactive interpreter, e.g.
	// ["python3", "-i", "-q", "-u"].
	Command []string

	// Prepare instruments the code and frames it with sentinels, returning
	// the exact bytes to write to the interpreter's stdin.
	Prepare func(code string, m instrument.Markers) string
}

// DefaultProfiles returns the built-in subprocess languages.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"python": {
			Name:    "python",
			Command: []string{"python3", "-i", "-q", "-u"},
			Prepare: instrument.WrapPython,
		},
		"shell": {
			Name:    "shell",
			Command: []string{"bash", "--noediting"},
			Prepare: func(code string, m instrument.Markers) string {
				return instrument.WrapShell(instrument.InstrumentShell(code, m), m)
			},
		},
		"javascript": {
			Name:    "javascript",
			Command: []string{"node", "-i"},
			Prepare: func(code string, m instrument.Markers) string {
				return instrument.WrapJavaScript(instrument.InstrumentJavaScript(code, m), m)
			},
		},
	}
}

// stdinWriter wraps the child's stdin pipe with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer *os.File
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// Subprocess is the subprocess strategy: one long-lived interactive
// interpreter per language. Because the same process persists across
// Execute calls, language-level state (variables, imports) survives between
// executions.
type Subprocess struct {
	profile Profile
	workDir string
	log     *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	counter int
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   *stdinWriter
	queue   *EventQueue

	termOnce sync.Once
}

// NewSubprocess creates an unstarted subprocess session. The process spawns
// lazily on the first Execute.
func NewSubprocess(profile Profile, workDir string, log *slog.Logger) *Subprocess {
	return &Subprocess{
		profile: profile,
		workDir: workDir,
		log:     log.With("language", profile.Name, "strategy", "subprocess"),
		state:   StateIdle,
	}
}

// Language returns the language identifier.
func (s *Subprocess) Language() string { return s.profile.Name }

// State returns the current lifecycle state.
func (s *Subprocess) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the interpreter process if it is not already running.
func (s *Subprocess) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Subprocess) startLocked() error {
	if s.started {
		return nil
	}
	if s.state == StateTerminated {
		return ErrSessionTerminated
	}

	binary, err := exec.LookPath(s.profile.Command[0])
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrSpawnFailed, s.profile.Command[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binary, s.profile.Command[1:]...)
	if s.workDir != "" {
		cmd.Dir = s.workDir
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: create stdin pipe: %v", ErrSpawnFailed, err)
	}
	cmd.Stdin = stdinR

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		stdinW.Close()
		stdinR.Close()
		return fmt.Errorf("%w: create stdout pipe: %v", ErrSpawnFailed, err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		stdinW.Close()
		stdinR.Close()
		return fmt.Errorf("%w: create stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		stdinW.Close()
		stdinR.Close()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// The child owns the read end now.
	stdinR.Close()

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = &stdinWriter{writer: stdinW}
	s.queue = NewEventQueue()
	s.started = true

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		readPump(stdoutPipe, StreamStdout, s.queue, s.log)
	}()
	go func() {
		defer pumps.Done()
		readPump(stderrPipe, StreamStderr, s.queue, s.log)
	}()

	go s.waitForExit(&pumps)

	s.log.Debug("process started", "pid", cmd.Process.Pid)
	return nil
}

// waitForExit reaps the child after both pumps drain, then closes the queue
// so any in-flight collector observes the exit.
func (s *Subprocess) waitForExit(pumps *sync.WaitGroup) {
	pumps.Wait()
	err := s.cmd.Wait()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	s.log.Debug("process exited", "exitCode", exitCode)

	s.stdin.Close()

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()

	s.queue.Close()
}

// Execute feeds one block of code to the interpreter. At most one execution
// may be in flight; a second concurrent call gets ErrSessionBusy.
func (s *Subprocess) Execute(code string) (*Execution, error) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil, ErrSessionTerminated
	}
	if s.state == StateExecuting {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if err := s.startLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.counter++
	markers := instrument.NewMarkers()
	ex := newExecution(fmt.Sprintf("%s-%d", s.profile.Name, s.counter), markers)
	s.state = StateExecuting
	stdin := s.stdin
	queue := s.queue
	s.mu.Unlock()

	// Anything still queued arrived after the previous execution's sentinel
	// and belongs to no one; it must not replay into this execution.
	queue.Discard()

	go s.collect(ex)

	payload := s.profile.Prepare(code, markers)
	if err := stdin.Write([]byte(payload)); err != nil {
		// Process died under us; the queue close will finish the
		// execution with a crash error.
		s.log.Warn("write to stdin failed", "error", err)
	}

	return ex, nil
}

// collect forwards queue events into the execution until the completion
// sentinel appears on a completed output line, or the process exits. It is
// the only goroutine that finishes the execution.
func (s *Subprocess) collect(ex *Execution) {
	partial := map[Stream]string{}

	for {
		ev, ok := s.queue.Pop()
		if !ok {
			s.executionDone()
			ex.finish(ErrProcessCrashed)
			return
		}

		ex.emit(ev)

		buf := partial[ev.Stream] + ev.Text
		lines := strings.Split(buf, "\n")
		partial[ev.Stream] = lines[len(lines)-1]

		for _, line := range lines[:len(lines)-1] {
			if ex.Markers.IsEnd(line) {
				s.executionDone()
				ex.finish(nil)
				return
			}
		}
	}
}

func (s *Subprocess) executionDone() {
	s.mu.Lock()
	if s.state == StateExecuting {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// Terminate kills the process and marks the session dead. Idempotent. A
// fresh session must be created (via the registry) for further use of this
// language; interpreter-level state does not survive.
func (s *Subprocess) Terminate() {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTerminated
		cmd := s.cmd
		cancel := s.cancel
		stdin := s.stdin
		started := s.started
		s.mu.Unlock()

		if !started {
			return
		}

		s.log.Debug("terminating session")
		stdin.Close()

		if cmd != nil && cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGTERM)
			go func() {
				time.Sleep(killGrace)
				cancel()
			}()
		}
	})
}
