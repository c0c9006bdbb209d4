// internal/public/ws.go
package public

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/user/remcli/internal/auth"
	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/types"
)

const (
	// outboxSize bounds per-connection queued frames. A client that
	// cannot drain its socket eventually loses events rather than
	// stalling every other subscriber.
	outboxSize = 256

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bearer token is the access control; origins are not.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handshakeFrame is the first client frame on a fresh socket.
type handshakeFrame struct {
	Token      string          `json:"token"`
	ClientType string          `json:"clientType"`
	SessionID  types.SessionID `json:"sessionId,omitempty"`
	MachineID  types.MachineID `json:"machineId,omitempty"`
}

// clientFrame is every subsequent client frame. ID, when present, asks
// for a callback reply with the same id.
type clientFrame struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// serverFrame is the single server→client frame shape.
type serverFrame struct {
	Event string `json:"event"`
	ID    *int64 `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// wsConn adapts one websocket to a router.Connection. Writes are
// serialized through an outbox channel drained by a single pump
// goroutine, so delivery order matches enqueue order.
type wsConn struct {
	ws    *websocket.Conn
	scope router.Scope

	outbox chan serverFrame
	closed chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn, scope router.Scope) *wsConn {
	return &wsConn{
		ws:     ws,
		scope:  scope,
		outbox: make(chan serverFrame, outboxSize),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Scope() router.Scope { return c.scope }

// Send queues a frame for delivery. It never blocks: a full outbox or a
// closed connection drops the frame.
func (c *wsConn) Send(event string, payload any) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.outbox <- serverFrame{Event: event, Data: payload}:
	default:
		slog.Warn("dropping frame for slow subscriber", "event", event)
	}
}

// reply queues a callback frame correlated to a client frame id.
func (c *wsConn) reply(id int64, payload any) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.outbox <- serverFrame{Event: "callback", ID: &id, Data: payload}:
	default:
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// writePump drains the outbox onto the socket until the connection
// closes.
func (c *wsConn) writePump() {
	for {
		select {
		case frame := <-c.outbox:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// handleUpdates upgrades the socket, performs the auth handshake and
// runs the read loop. The connection is registered with the event router
// only after the handshake verifies.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello handshakeFrame
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	scope, ok := s.authenticate(hello)
	if !ok {
		_ = ws.WriteJSON(serverFrame{Event: "error", Data: map[string]string{"message": "unauthorized"}})
		ws.Close()
		return
	}

	conn := newWSConn(ws, scope)
	go conn.writePump()
	conn.Send("hello", map[string]string{"result": "ok"})

	s.events.Attach(conn)
	defer func() {
		s.events.Detach(conn)
		if removed := s.rpc.UnregisterAll(conn); len(removed) > 0 {
			slog.Info("released rpc bindings on disconnect", "methods", removed)
		}
		conn.close()
	}()

	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		s.dispatch(conn, &frame)
	}
}

// authenticate verifies the handshake token and resolves the declared
// scope. A session or machine scope without its id is rejected.
func (s *Server) authenticate(hello handshakeFrame) (router.Scope, bool) {
	if !auth.VerifyToken(hello.Token, s.secret) {
		return router.Scope{}, false
	}
	switch strings.TrimSuffix(hello.ClientType, "-scoped") {
	case "user":
		return router.UserScope(), true
	case "session":
		if hello.SessionID == "" {
			return router.Scope{}, false
		}
		return router.SessionScope(hello.SessionID), true
	case "machine":
		if hello.MachineID == "" {
			return router.Scope{}, false
		}
		return router.MachineScope(hello.MachineID), true
	}
	return router.Scope{}, false
}
