package notifier

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/envforge/envforge/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// conn is the slice of *websocket.Conn a Session needs; an interface so
// tests can substitute a fake instead of a real socket.
type conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// command is the client->server message shape: {action, target fields}.
// projectId and environmentId are both accepted so a session can subscribe
// to either an environment's status/logs or a project's metrics stream with
// the same envelope.
type command struct {
	Action        string `json:"action"`
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
}

// Session is one authenticated client connection. A session only exists
// once its caller has already verified a principal; the notifier itself
// performs no authentication.
type Session struct {
	n         *Notifier
	conn      conn
	principal string

	out    chan interface{}
	lagged int64

	closeOnce sync.Once
}

// NewSession wraps c as a Session for principal, who must already be
// verified by the caller (the HTTP layer this core does not own). It only
// builds the Session and returns it without starting anything; Run starts
// the read and write pumps and blocks, so call Run from its own goroutine
// per accepted connection.
func (n *Notifier) NewSession(c conn, principal string) (*Session, error) {
	if principal == "" {
		return nil, errPrincipalRequired
	}
	s := &Session{
		n:         n,
		conn:      c,
		principal: principal,
		out:       make(chan interface{}, sendBuffer),
	}
	return s, nil
}

var errPrincipalRequired = sessionError("notifier: session requires a verified principal")

type sessionError string

func (e sessionError) Error() string { return string(e) }

// Run drives the session until its connection closes: a write pump drains
// s.out to the socket and pings on an interval, and a read pump handles
// client subscribe/unsubscribe/ping commands. It blocks until either side
// exits, then removes the session from every subscription index.
func (s *Session) Run() {
	done := make(chan struct{})
	go s.writePump(done)
	s.readPump()
	close(done)
	s.n.removeSession(s)
}

func (s *Session) readPump() {
	sessLog := log.WithComponent("notifier")
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if !isNormalClose(err) {
				sessLog.Debug().Err(err).Msg("session read closed")
			}
			return
		}
		s.handleCommand(cmd)
	}
}

func (s *Session) handleCommand(cmd command) {
	switch cmd.Action {
	case "SUBSCRIBE", "subscribe":
		if cmd.EnvironmentID != "" {
			s.n.subscribeEnv(cmd.EnvironmentID, s)
		}
		if cmd.ProjectID != "" {
			s.n.subscribeProject(cmd.ProjectID, s)
		}
	case "UNSUBSCRIBE", "unsubscribe":
		if cmd.EnvironmentID != "" {
			s.n.unsubscribeEnv(cmd.EnvironmentID, s)
		}
		if cmd.ProjectID != "" {
			s.n.unsubscribeProject(cmd.ProjectID, s)
		}
	case "PING", "ping":
		s.enqueue(pongEnvelope())
	}
}

func (s *Session) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case msg, ok := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(pingEnvelope()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// enqueue queues msg for delivery, dropping the oldest queued message and
// counting a lag event if the session's buffer is full. It never blocks the
// publisher.
func (s *Session) enqueue(msg interface{}) {
	select {
	case s.out <- msg:
	default:
		select {
		case <-s.out:
		default:
		}
		s.lagged++
		select {
		case s.out <- msg:
		default:
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

type pingPayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func pingEnvelope() pingPayload {
	return pingPayload{Type: "ping", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func pongEnvelope() pingPayload {
	return pingPayload{Type: "pong", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}
