// Package event defines the event stream shared by the compiler gateway and
// the process supervisor. Events are the only channel through which those
// components report progress, child output, and diagnostics to their consumer.
package event

import "fmt"

// Kind is the category of an event.
type Kind string

const (
	// KindLog carries human-readable lifecycle notices (compile start/end,
	// run start, exit summaries).
	KindLog Kind = "log"

	// KindOutput carries child stdout bytes, plus synthetic newline
	// separators emitted around exit and termination.
	KindOutput Kind = "output"

	// KindError carries child stderr bytes and compiler diagnostics.
	KindError Kind = "error"
)

// Event is a single entry in the stream.
type Event struct {
	Kind Kind   `json:"kind"`
	Data []byte `json:"data"`
}

// Logf builds a KindLog event.
func Logf(format string, args ...any) Event {
	return Event{Kind: KindLog, Data: []byte(fmt.Sprintf(format, args...))}
}

// Output builds a KindOutput event. The bytes are not copied.
func Output(b []byte) Event {
	return Event{Kind: KindOutput, Data: b}
}

// Error builds a KindError event. The bytes are not copied.
func Error(b []byte) Event {
	return Event{Kind: KindError, Data: b}
}
