package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/guseggert/runlet/compiler"
	"github.com/guseggert/runlet/event"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client opens compile-and-run sessions against a remote agent.
type Client struct {
	HTTPClient *http.Client
	URL        string // base URL, e.g. "http://10.0.0.1:8080"
	Logger     *zap.SugaredLogger
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// WaitForServer polls the server's health endpoint until it answers or ctx
// expires.
func (c *Client) WaitForServer(ctx context.Context) error {
	retryClient := retryablehttp.NewClient()
	if c.HTTPClient != nil {
		retryClient.HTTPClient = c.HTTPClient
	}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 100 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := retryClient.StandardClient().Do(req)
	if err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}
	return nil
}

// OpenSession dials the server and starts a session. The caller must drain
// Events and Close the session when done.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	wsURL := strings.Replace(c.URL, "http", "ws", 1) + "/v1/session"
	c.Logger.Debugw("dialing WebSocket for session", "URL", wsURL)
	wsConn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn for session: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		log:       c.Logger.Named("session"),
		conn:      wsConn,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event.Event, eventBuffer),
		compileCh: make(chan compileResult, 1),
		idCh:      make(chan string, 1),
	}
	go s.readMessages()

	// the server's first message announces the session ID
	select {
	case s.id = <-s.idCh:
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// Session is one compile-and-run session. Its child process lives and dies
// with the underlying connection.
type Session struct {
	id     string
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	events    chan event.Event
	compileCh chan compileResult
	idCh      chan string

	closeConnOnce sync.Once
}

// ID returns the server-assigned session ID.
func (s *Session) ID() string {
	return s.id
}

// Events returns the remote event stream. The channel closes when the
// session ends.
func (s *Session) Events() <-chan event.Event {
	return s.events
}

// Compile asks the server to compile files into outDir and blocks until the
// server reports the result. A compiler failure is returned as a
// *compiler.FailedError carrying the diagnostics.
func (s *Session) Compile(ctx context.Context, files []string, outDir string) error {
	err := wsjson.Write(s.ctx, s.conn, sessionRequestMessage{
		Compile: &compileRequest{Files: files, OutputDir: outDir},
	})
	if err != nil {
		return fmt.Errorf("sending compile request: %w", err)
	}
	select {
	case res := <-s.compileCh:
		if !res.OK {
			return &compiler.FailedError{Diagnostics: res.Diagnostics}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Run asks the server's supervisor to launch identifier inside wd, with the
// usual single-slot replacement semantics.
func (s *Session) Run(wd, identifier string) error {
	return wsjson.Write(s.ctx, s.conn, sessionRequestMessage{
		Run: &runRequest{WD: wd, Identifier: identifier},
	})
}

// WriteInput forwards text to the remote child's stdin.
func (s *Session) WriteInput(text string) error {
	return wsjson.Write(s.ctx, s.conn, sessionRequestMessage{Stdin: []byte(text)})
}

// Terminate asks the server to stop the remote child, best-effort.
func (s *Session) Terminate() error {
	return wsjson.Write(s.ctx, s.conn, sessionRequestMessage{Terminate: true})
}

// Close ends the session. The remote child, if any, is killed server-side.
func (s *Session) Close() {
	s.closeConn(websocket.StatusNormalClosure, "")
	s.cancel()
}

func (s *Session) closeConn(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (s *Session) readMessages() {
	defer close(s.events)
	defer s.cancel()

	for {
		var msg sessionResponseMessage
		err := wsjson.Read(s.ctx, s.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			s.log.Debugf("session conn closed: %s", err)
			return
		}
		if err != nil {
			s.log.Debugf("message reader got error: %s", err)
			s.closeConn(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.SessionID != "" {
			select {
			case s.idCh <- msg.SessionID:
			default:
				s.log.Debug("dropping repeated session ID")
			}
		}
		if msg.Event != nil {
			select {
			case s.events <- *msg.Event:
			case <-s.ctx.Done():
				return
			}
		}
		if msg.CompileDone != nil {
			select {
			case s.compileCh <- *msg.CompileDone:
			default:
				s.log.Debug("dropping unexpected compile result")
			}
		}
	}
}
