package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Pasted input arrives as a
	// single input frame.
	maxMessageSize = 1 << 20
)

// Close codes used by the bridge.
const (
	CloseNormal        = websocket.CloseNormalClosure
	CloseInternalError = websocket.CloseInternalServerErr
)

// ErrClosed is returned by Send after the connection was closed.
var ErrClosed = errors.New("ws: connection closed")

// NewUpgrader returns an upgrader that accepts the given origins. An empty
// list or a "*" entry accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     OriginChecker(allowedOrigins),
	}
}

// OriginChecker matches the request Origin against allowed. Entries may be a
// full origin ("https://host:port") or a bare host ("host:port").
func OriginChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients do not send an origin.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
				return true
			}
		}
		return false
	}
}

// Upgrade upgrades the HTTP request and wraps the resulting connection.
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// Conn is a WebSocket connection carrying one terminal session. Reads must
// come from a single goroutine; writes may come from any goroutine.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn and installs the read limit and pong handler.
func NewConn(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &Conn{conn: conn}
}

// ReadFrame blocks for the next text or binary frame and returns its payload.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return data, nil
}

// Send writes msg as one text frame.
func (c *Conn) Send(msg ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// CloseWithStatus sends a close frame with code and reason, then closes the
// underlying connection.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.writeMu.Lock()
	if !c.closed {
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.closed = true
	}
	c.writeMu.Unlock()
	return c.Close()
}

// Close closes the underlying connection without a close frame.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// KeepAlive pings the peer until ctx is done or a write fails.
func (c *Conn) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// IsUnexpectedClose reports whether err is a read error worth logging.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
