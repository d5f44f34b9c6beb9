// Package compiler invokes an external compiler over a batch of source
// files, preparing the output directory first and reporting progress and
// diagnostics on the event stream.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/guseggert/runlet/event"
	"github.com/guseggert/runlet/internal/platform"
	"go.uber.org/zap"
)

// ErrNoFiles is returned when Compile is called with an empty file list.
// It is rejected before any side effect and without emitting events.
var ErrNoFiles = errors.New("no source files")

// FailedError is returned when the external compiler fails, carrying its
// diagnostic output verbatim.
type FailedError struct {
	Diagnostics string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("compile failed: %s", e.Diagnostics)
}

// Gateway runs an external compiler. It is not safe for concurrent Compile
// calls against the same output directory: the clear-then-populate sequence
// is not atomic.
type Gateway struct {
	log    *zap.SugaredLogger
	events chan<- event.Event
	cmd    string
	args   []string
}

type Option func(g *Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.log = l.Sugar()
	}
}

// WithCommand sets the compiler invocation. The source files and the
// "-d outputDir" pair are appended after args. The default is "javac".
func WithCommand(cmd string, args ...string) Option {
	return func(g *Gateway) {
		g.cmd = cmd
		g.args = args
	}
}

// New constructs a Gateway that publishes progress onto events.
func New(events chan<- event.Event, opts ...Option) *Gateway {
	g := &Gateway{
		log:    zap.NewNop().Sugar(),
		events: events,
		cmd:    "javac",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Compile ensures outDir exists, clears its previous contents so stale
// artifacts cannot linger, then invokes the compiler over files, blocking
// until it finishes. On a compiler failure the diagnostics are emitted as
// an error event and returned inside a *FailedError; partial artifacts are
// left as-is.
func (g *Gateway) Compile(ctx context.Context, files []string, outDir string) error {
	if len(files) == 0 {
		return ErrNoFiles
	}

	err := platform.EnsureDir(outDir)
	if err != nil {
		return fmt.Errorf("preparing output dir: %w", err)
	}
	err = platform.ClearDir(outDir)
	if err != nil {
		return fmt.Errorf("clearing output dir: %w", err)
	}

	g.emit(ctx, event.Logf("compiling"))

	args := append(append([]string{}, g.args...), files...)
	args = append(args, "-d", outDir)
	cmd := exec.CommandContext(ctx, g.cmd, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	g.log.Debugw("invoking compiler", "Command", g.cmd, "Args", args)
	err = cmd.Run()
	if err != nil {
		diag := stderr.String()
		if _, ok := err.(*exec.ExitError); !ok {
			// the compiler itself could not be run
			diag = err.Error()
		}
		g.log.Debugf("compiler failed: %s", err)
		g.emit(ctx, event.Error([]byte(diag)))
		return &FailedError{Diagnostics: diag}
	}

	g.emit(ctx, event.Logf("done"))
	return nil
}

// emit publishes e unless the context ends first, so a consumer that stops
// draining mid-compile cannot wedge Compile.
func (g *Gateway) emit(ctx context.Context, e event.Event) {
	select {
	case g.events <- e:
	case <-ctx.Done():
		g.log.Debugf("dropping %s event: %s", e.Kind, ctx.Err())
	}
}
