package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/runlet/compiler"
	"github.com/guseggert/runlet/event"
	"github.com/guseggert/runlet/supervisor"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// eventBuffer is the per-session event window; a client that stops reading
// stalls its child once this fills.
const eventBuffer = 64

// Server accepts compile-and-run sessions over WebSockets.
type Server struct {
	Log *zap.SugaredLogger

	// CompilerCommand and RunnerCommand override the session compiler and
	// runner invocations. Empty values use the package defaults.
	CompilerCommand string
	CompilerArgs    []string
	RunnerCommand   string
	RunnerArgs      []string
}

// Handler returns the HTTP routes for the server.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealthz)
	router.HandlerFunc(http.MethodGet, "/v1/session", s.handleSession)
	return router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	wsConn.SetReadLimit(readLimit)
	s.Log.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	log := s.Log.Named("session").With("SessionID", id)
	events := make(chan event.Event, eventBuffer)

	gatewayOpts := []compiler.Option{compiler.WithLogger(log.Desugar())}
	if s.CompilerCommand != "" {
		gatewayOpts = append(gatewayOpts, compiler.WithCommand(s.CompilerCommand, s.CompilerArgs...))
	}
	supOpts := []supervisor.Option{supervisor.WithLogger(log.Desugar())}
	if s.RunnerCommand != "" {
		supOpts = append(supOpts, supervisor.WithRunner(s.RunnerCommand, s.RunnerArgs...))
	}

	sess := &serverSession{
		id:       id,
		log:      log,
		conn:     wsConn,
		ctx:      ctx,
		cancel:   cancel,
		events:   events,
		compiler: compiler.New(events, gatewayOpts...),
		sup:      supervisor.New(events, supOpts...),
	}
	sess.run()
}

type serverSession struct {
	id     string
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	events   chan event.Event
	compiler *compiler.Gateway
	sup      *supervisor.Supervisor

	wg sync.WaitGroup

	closeConnOnce sync.Once
}

func (s *serverSession) run() {
	// the session's child dies with the connection
	defer s.sup.Close()

	// announce the session ID before anything else
	s.write(sessionResponseMessage{SessionID: s.id})

	s.wg.Add(2)
	go s.forwardEvents()
	go s.readMessages()
	s.wg.Wait()
}

func (s *serverSession) close(code websocket.StatusCode, reason string) {
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (s *serverSession) readMessages() {
	defer s.wg.Done()
	defer s.cancel()

	for {
		var msg sessionRequestMessage
		err := wsjson.Read(s.ctx, s.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			s.log.Debugf("message reader got error: %s", err)
			s.close(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.Compile != nil {
			s.handleCompile(msg.Compile)
		}
		if msg.Run != nil {
			s.sup.Run(msg.Run.WD, msg.Run.Identifier)
		}
		if len(msg.Stdin) > 0 {
			s.sup.WriteInput(string(msg.Stdin))
		}
		if msg.Terminate {
			s.sup.Terminate()
		}
	}
}

// handleCompile blocks the message reader until the compiler finishes,
// matching the gateway's synchronous contract.
func (s *serverSession) handleCompile(req *compileRequest) {
	err := s.compiler.Compile(s.ctx, req.Files, req.OutputDir)
	res := compileResult{OK: err == nil}
	if err != nil {
		var failed *compiler.FailedError
		if errors.As(err, &failed) {
			res.Diagnostics = failed.Diagnostics
		} else {
			res.Diagnostics = err.Error()
		}
	}
	s.write(sessionResponseMessage{CompileDone: &res})
}

func (s *serverSession) forwardEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.write(sessionResponseMessage{Event: &ev})
		}
	}
}

func (s *serverSession) write(msg sessionResponseMessage) {
	err := wsjson.Write(s.ctx, s.conn, msg)
	if err != nil {
		s.log.Debugf("error writing session message: %s", err)
		s.cancel()
	}
}
