package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guseggert/runlet/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops a fake compiler into a temp dir. Gateways under test
// invoke it via "sh" so the tests don't need a real toolchain.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakecc.sh")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755)
	require.NoError(t, err)
	return path
}

// okScript skips to the -d flag and writes one artifact into the output dir.
const okScript = `
while [ "$1" != "-d" ]; do shift; done
echo compiled > "$2/app.bin"
`

const failScript = `
echo "Main.java:3: error: cannot find symbol" 1>&2
exit 1
`

func drainEvents(events chan event.Event) []event.Event {
	var got []event.Event
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func TestCompileRejectsEmptyFileList(t *testing.T) {
	events := make(chan event.Event, 16)
	g := New(events)
	outDir := filepath.Join(t.TempDir(), "out")

	err := g.Compile(context.Background(), nil, outDir)
	require.ErrorIs(t, err, ErrNoFiles)

	// no side effects at all: no events, not even the output dir
	assert.Empty(t, drainEvents(events))
	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompileClearsStaleArtifacts(t *testing.T) {
	events := make(chan event.Event, 16)
	g := New(events, WithCommand("sh", writeScript(t, okScript)))

	outDir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(outDir, 0755))
	stale := filepath.Join(outDir, "stale.bin")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {}"), 0644))

	err := g.Compile(context.Background(), []string{src}, outDir)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "stale artifact must be cleared")
	produced, readErr := os.ReadFile(filepath.Join(outDir, "app.bin"))
	require.NoError(t, readErr)
	assert.Equal(t, "compiled\n", string(produced))

	got := drainEvents(events)
	require.Len(t, got, 2)
	assert.Equal(t, "compiling", string(got[0].Data))
	assert.Equal(t, "done", string(got[1].Data))
}

func TestCompileCreatesMissingOutputDir(t *testing.T) {
	events := make(chan event.Event, 16)
	g := New(events, WithCommand("sh", writeScript(t, okScript)))

	outDir := filepath.Join(t.TempDir(), "does", "not", "exist")
	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {}"), 0644))

	err := g.Compile(context.Background(), []string{src}, outDir)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(outDir, "app.bin"))
	assert.NoError(t, statErr)
}

func TestCompileFailureCarriesDiagnostics(t *testing.T) {
	events := make(chan event.Event, 16)
	g := New(events, WithCommand("sh", writeScript(t, failScript)))

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {"), 0644))

	err := g.Compile(context.Background(), []string{src}, filepath.Join(t.TempDir(), "out"))
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Diagnostics, "cannot find symbol")

	got := drainEvents(events)
	require.Len(t, got, 2)
	assert.Equal(t, "compiling", string(got[0].Data))
	assert.Equal(t, event.KindError, got[1].Kind)
	assert.Contains(t, string(got[1].Data), "cannot find symbol")
}

func TestCompileReturnsWhenConsumerGone(t *testing.T) {
	// nobody ever reads events: a dead context must still let Compile
	// finish instead of wedging on the first emit
	events := make(chan event.Event)
	g := New(events, WithCommand("sh", writeScript(t, okScript)))

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {}"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Compile(ctx, []string{src}, filepath.Join(t.TempDir(), "out"))
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Compile blocked on an undrained event stream")
	}
}

func TestCompilerBinaryMissing(t *testing.T) {
	events := make(chan event.Event, 16)
	g := New(events, WithCommand("/nonexistent/compiler"))

	src := filepath.Join(t.TempDir(), "Main.java")
	require.NoError(t, os.WriteFile(src, []byte("class Main {}"), 0644))

	err := g.Compile(context.Background(), []string{src}, filepath.Join(t.TempDir(), "out"))
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.NotEmpty(t, failed.Diagnostics)
}
