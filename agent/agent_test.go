package agent

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/runlet/compiler"
	"github.com/guseggert/runlet/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

const fakeCompiler = `#!/bin/sh
while [ "$1" != "-d" ]; do shift; done
echo compiled > "$2/app.bin"
`

const failingCompiler = `#!/bin/sh
echo "boom" 1>&2
exit 1
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakecc.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func newTestClient(t *testing.T, server *Server) *Client {
	t.Helper()
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &Client{
		HTTPClient: ts.Client(),
		URL:        ts.URL,
		Logger:     log,
	}
}

func collectUntilExit(t *testing.T, events <-chan event.Event) []event.Event {
	t.Helper()
	var got []event.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed early, got: %v", got)
			}
			got = append(got, ev)
			if ev.Kind == event.KindLog && strings.HasPrefix(string(ev.Data), "exited with code") {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for exit, got: %v", got)
		}
	}
}

func TestSessionCompileRunStream(t *testing.T) {
	ctx := context.Background()

	server := &Server{
		Log:             log.Named("server"),
		CompilerCommand: "sh",
		CompilerArgs:    []string{writeScript(t, fakeCompiler)},
		RunnerCommand:   "sh",
		RunnerArgs:      []string{"-c"},
	}
	client := newTestClient(t, server)

	require.NoError(t, client.WaitForServer(ctx))

	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	// the server assigns every session an ID and announces it up front
	_, err = uuid.Parse(sess.ID())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {}"), 0644))
	outDir := filepath.Join(t.TempDir(), "out")

	err = sess.Compile(ctx, []string{src}, outDir)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(outDir, "app.bin"))
	require.NoError(t, statErr)

	require.NoError(t, sess.Run(outDir, "echo hello from the session"))
	got := collectUntilExit(t, sess.Events())

	output := &strings.Builder{}
	var logs []string
	for _, ev := range got {
		switch ev.Kind {
		case event.KindOutput:
			output.Write(ev.Data)
		case event.KindLog:
			logs = append(logs, string(ev.Data))
		}
	}
	assert.Contains(t, output.String(), "hello from the session\n")
	assert.Contains(t, logs, "compiling")
	assert.Contains(t, logs, "done")
	assert.Contains(t, logs, "running echo hello from the session")
	assert.Contains(t, logs, "exited with code 0")
}

func TestSessionCompileFailure(t *testing.T) {
	ctx := context.Background()

	server := &Server{
		Log:             log.Named("server"),
		CompilerCommand: "sh",
		CompilerArgs:    []string{writeScript(t, failingCompiler)},
	}
	client := newTestClient(t, server)

	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {"), 0644))

	err = sess.Compile(ctx, []string{src}, filepath.Join(t.TempDir(), "out"))
	var failed *compiler.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Diagnostics, "boom")
}

func TestSessionStdinAndTerminate(t *testing.T) {
	ctx := context.Background()

	server := &Server{
		Log:           log.Named("server"),
		RunnerCommand: "sh",
		RunnerArgs:    []string{"-c"},
	}
	client := newTestClient(t, server)

	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	// exec so the terminate signal lands on cat, not a forked shell
	require.NoError(t, sess.Run(t.TempDir(), "exec cat"))

	deadline := time.After(10 * time.Second)
	for running := false; !running; {
		select {
		case ev := <-sess.Events():
			if ev.Kind == event.KindLog && string(ev.Data) == "running exec cat" {
				running = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for run")
		}
	}

	require.NoError(t, sess.WriteInput("round trip\n"))

	for echoed := false; !echoed; {
		select {
		case ev := <-sess.Events():
			if ev.Kind == event.KindOutput && strings.Contains(string(ev.Data), "round trip\n") {
				echoed = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for echoed stdin")
		}
	}

	require.NoError(t, sess.Terminate())
	collectUntilExit(t, sess.Events())
}
