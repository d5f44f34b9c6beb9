package supervisor

import (
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/runlet/event"
	"github.com/guseggert/runlet/internal/platform"
	"go.uber.org/zap"
)

// Supervisor owns a single child-process slot. See the package docs for the
// lifecycle rules. The zero value is not usable; construct with New.
type Supervisor struct {
	log *zap.SugaredLogger

	runnerCmd  string
	runnerArgs []string

	events  chan<- event.Event
	actions chan func()
	done    chan struct{}

	closeOnce sync.Once

	// Slot state. Owned by the loop goroutine; never touch it elsewhere.
	gen     uint64
	cur     *child
	pending *launch
}

// launch is a queued (directory, identifier) run request.
type launch struct {
	dir  string
	name string
}

type child struct {
	gen   uint64
	id    string
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = l.Sugar()
	}
}

// WithRunner sets the command used to launch children. The identifier passed
// to Run is appended as the final argument. The default is "java".
func WithRunner(cmd string, args ...string) Option {
	return func(s *Supervisor) {
		s.runnerCmd = cmd
		s.runnerArgs = args
	}
}

// New constructs a Supervisor that publishes onto events and starts its
// coordinating goroutine. The caller owns the events channel and must drain
// it for as long as the supervisor lives.
func New(events chan<- event.Event, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:       zap.NewNop().Sugar(),
		runnerCmd: "java",
		events:    events,
		actions:   make(chan func(), 16),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.loop()
	return s
}

// Run launches name inside dir, or, if a child is still alive, asks it to
// stop and queues (dir, name) as the pending restart. Never blocks on the
// child; the actual replacement launch happens when the old child's exit
// notification arrives.
func (s *Supervisor) Run(dir, name string) {
	s.do(func() { s.handleRun(dir, name) })
}

// WriteInput writes text to the current child's stdin. A no-op when the
// slot is idle. The text is forwarded as-is; callers wanting the child to
// see a complete line must include the newline themselves.
func (s *Supervisor) WriteInput(text string) {
	s.do(func() {
		if s.cur == nil || s.cur.stdin == nil {
			return
		}
		_, err := io.WriteString(s.cur.stdin, text)
		if err != nil {
			s.log.Debugf("writing stdin to run %s: %s", s.cur.id, err)
		}
	})
}

// Terminate asks the current child to stop. A no-op when the slot is idle.
// It returns immediately and does not wait for, or guarantee, the child's
// exit; calling it again before the exit is observed just re-requests the
// signal.
func (s *Supervisor) Terminate() {
	s.do(func() { s.interrupt() })
}

// Close stops the coordinating goroutine and best-effort kills the current
// child. No events are delivered after Close returns.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		killed := make(chan struct{})
		s.do(func() {
			if s.cur != nil && s.cur.cmd.Process != nil {
				_ = s.cur.cmd.Process.Kill()
			}
			close(killed)
		})
		<-killed
		close(s.done)
	})
}

// do posts fn onto the action channel for the loop goroutine to execute.
func (s *Supervisor) do(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

func (s *Supervisor) loop() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.actions:
			fn()
		}
	}
}

func (s *Supervisor) emit(e event.Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func (s *Supervisor) handleRun(dir, name string) {
	if s.cur != nil {
		// Replace: remember only the newest request and ask the current
		// child to stop. The exit notification performs the launch.
		s.pending = &launch{dir: dir, name: name}
		s.interrupt()
		return
	}
	s.start(dir, name)
}

func (s *Supervisor) start(dir, name string) {
	s.gen++
	c := &child{
		gen: s.gen,
		id:  uuid.NewString(),
	}

	args := append(append([]string{}, s.runnerArgs...), name)
	cmd := exec.Command(s.runnerCmd, args...)
	cmd.Dir = dir
	cmd.Stdout = &eventWriter{kind: event.KindOutput, events: s.events, done: s.done}
	cmd.Stderr = &eventWriter{kind: event.KindError, events: s.events, done: s.done}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.log.Debugf("stdin pipe for run %s: %s", c.id, err)
	}
	c.stdin = stdin
	c.cmd = cmd

	s.emit(event.Logf("running %s", name))
	s.cur = c

	err = cmd.Start()
	if err != nil {
		// A failed launch surfaces through the normal exit path rather
		// than a separate error channel.
		s.log.Debugw("launch failed", "RunID", c.id, "Name", name, "Error", err)
		go s.notifyExit(c.gen, -1)
		return
	}
	s.log.Debugw("child started", "RunID", c.id, "PID", cmd.Process.Pid, "Dir", dir, "Name", name)
	go s.waitChild(c)
}

func (s *Supervisor) waitChild(c *child) {
	err := c.cmd.Wait()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			s.log.Debugf("unexpected wait error for run %s: %s", c.id, err)
		}
	}
	s.notifyExit(c.gen, c.cmd.ProcessState.ExitCode())
}

func (s *Supervisor) notifyExit(gen uint64, code int) {
	s.do(func() { s.handleExit(gen, code) })
}

func (s *Supervisor) handleExit(gen uint64, code int) {
	s.emit(event.Logf("exited with code %d", code))
	// visual separator for the consuming UI
	s.emit(event.Output([]byte("\n")))

	if s.cur == nil || s.cur.gen != gen {
		// stale notification for a child the slot no longer tracks
		s.log.Debugw("ignoring stale exit", "Gen", gen, "Code", code)
		return
	}
	s.cur = nil

	if p := s.pending; p != nil {
		s.pending = nil
		s.start(p.dir, p.name)
	}
}

func (s *Supervisor) interrupt() {
	if s.cur == nil {
		return
	}
	// separator first, so the consumer's view of the child's output is
	// visually cut where the stop was requested
	s.emit(event.Output([]byte("\n")))
	if s.cur.cmd.Process != nil {
		err := platform.Interrupt(s.cur.cmd.Process)
		if err != nil {
			s.log.Debugf("interrupting run %s: %s", s.cur.id, err)
		}
	}
	// The slot stays occupied until the exit notification arrives. If the
	// child ignores the signal, it stays occupied indefinitely.
}

// eventWriter adapts the events channel to io.Writer for wiring into
// exec.Cmd stdout/stderr. Per-stream ordering is preserved because exec
// copies each stream sequentially; there is no ordering guarantee between
// the two streams.
type eventWriter struct {
	kind   event.Kind
	events chan<- event.Event
	done   <-chan struct{}
}

func (w *eventWriter) Write(p []byte) (int, error) {
	// exec reuses the buffer between calls
	b := make([]byte, len(p))
	copy(b, p)
	select {
	case w.events <- event.Event{Kind: w.kind, Data: b}:
		return len(p), nil
	case <-w.done:
		return 0, io.ErrClosedPipe
	}
}
