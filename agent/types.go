package agent

import "github.com/guseggert/runlet/event"

// sessionRequestMessage is a client->server message. Any combination of
// fields may be set; they are handled in the order compile, run, stdin,
// terminate.
type sessionRequestMessage struct {
	Compile *compileRequest `json:",omitempty"`
	Run     *runRequest     `json:",omitempty"`

	Stdin     []byte `json:",omitempty"`
	Terminate bool   `json:",omitempty"`
}

type compileRequest struct {
	Files     []string
	OutputDir string
}

type runRequest struct {
	WD         string
	Identifier string
}

// sessionResponseMessage is a server->client message. The first message of a
// session carries only the SessionID. Event responses stream for as long as
// the session lives; a CompileDone response answers exactly one compile
// request.
type sessionResponseMessage struct {
	SessionID string `json:",omitempty"`

	Event *event.Event `json:",omitempty"`

	CompileDone *compileResult `json:",omitempty"`
}

type compileResult struct {
	OK          bool
	Diagnostics string `json:",omitempty"`
}
