// Package client drives a remote terminal session. It forwards local input
// and geometry to the session bridge and renders the frames it sends back.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/internal/ws"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
	inputChunk   = 4096
)

var (
	// ErrExited is returned when sending after the shell exited.
	ErrExited = errors.New("client: terminal exited")

	// ErrClosed is returned when sending after Close.
	ErrClosed = errors.New("client: closed")
)

// Surface is where terminal output is rendered.
type Surface interface {
	Write(p []byte) (int, error)
	Size() (cols, rows int, err error)
}

// Options configures a Client.
type Options struct {
	Surface Surface
	Header  http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	OnCwd  func(path string)
	OnExit func(code int)
	Logger *zap.Logger
}

// Client is one terminal session seen from the client side.
type Client struct {
	conn    *websocket.Conn
	surface Surface
	opts    Options
	log     *zap.Logger
	bar     ShortcutBar

	writeMu sync.Mutex

	mu       sync.Mutex
	exited   bool
	exitCode int
	cwd      string

	pongs     chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the session endpoint at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Surface == nil {
		return nil, errors.New("client: surface is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	return &Client{
		conn:    conn,
		surface: opts.Surface,
		opts:    opts,
		log:     opts.Logger,
		pongs:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}, nil
}

// Shortcuts returns the client's shortcut bar.
func (c *Client) Shortcuts() *ShortcutBar { return &c.bar }

// Cwd returns the last working directory label received.
func (c *Client) Cwd() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// Exited returns the exit code once the shell has exited.
func (c *Client) Exited() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.exited
}

func (c *Client) send(msg ws.ClientMessage) error {
	data, err := ws.EncodeClientMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Type sends data as typed input, applying an armed Ctrl modifier.
func (c *Client) Type(data string) error {
	if _, exited := c.Exited(); exited {
		return ErrExited
	}
	data = c.bar.Transform(data)
	if data == "" {
		return nil
	}
	return c.send(ws.ClientMessage{Type: ws.MessageTypeInput, Data: data})
}

// Press presses a shortcut bar button.
func (c *Client) Press(k Key) error {
	if _, exited := c.Exited(); exited {
		return ErrExited
	}
	data, ok := c.bar.Press(k)
	if !ok {
		return nil
	}
	return c.send(ws.ClientMessage{Type: ws.MessageTypeInput, Data: data})
}

// Resize sends the surface's current geometry.
func (c *Client) Resize() error {
	cols, rows, err := c.surface.Size()
	if err != nil {
		return fmt.Errorf("failed to get surface size: %w", err)
	}
	return c.send(ws.ClientMessage{
		Type: ws.MessageTypeResize,
		Cols: float64(cols),
		Rows: float64(rows),
	})
}

// Ping sends a ping and waits for the pong. Run must be running.
func (c *Client) Ping(ctx context.Context) error {
	select {
	case <-c.pongs:
	default:
	}
	if err := c.send(ws.ClientMessage{Type: ws.MessageTypePing}); err != nil {
		return err
	}
	select {
	case <-c.pongs:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sends the initial resize and then relays until the session ends:
// input is read from input, every value on resizes triggers a resize, and
// server frames are rendered on the surface. Either of input and resizes
// may be nil. Run returns nil when the server closes normally, ctx.Err()
// when ctx ends first, and the read error otherwise. The client is closed
// when Run returns.
func (c *Client) Run(ctx context.Context, input io.Reader, resizes <-chan struct{}) error {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := c.Resize(); err != nil {
		return err
	}
	if input != nil {
		go c.forwardInput(input)
	}
	if resizes != nil {
		go c.forwardResizes(resizes)
	}

	err := c.readLoop()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) forwardInput(r io.Reader) {
	buf := make([]byte, inputChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := c.Type(string(buf[:n])); sendErr != nil {
				if !errors.Is(sendErr, ErrExited) && !errors.Is(sendErr, ErrClosed) {
					c.log.Debug("input not sent", zap.Error(sendErr))
				}
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) forwardResizes(resizes <-chan struct{}) {
	for {
		select {
		case <-c.closed:
			return
		case _, ok := <-resizes:
			if !ok {
				return
			}
			if _, exited := c.Exited(); exited {
				continue
			}
			if err := c.Resize(); err != nil {
				c.log.Debug("resize not sent", zap.Error(err))
			}
		}
	}
}

func (c *Client) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if _, exited := c.Exited(); exited {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("session ended: %w", err)
		}

		msg, err := ws.DecodeServerMessage(data)
		if err != nil {
			c.log.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ws.ServerMessage) {
	switch msg.Type {
	case ws.MessageTypeOutput:
		if msg.Data == nil {
			return
		}
		if _, exited := c.Exited(); exited {
			return
		}
		c.surface.Write([]byte(*msg.Data))

	case ws.MessageTypeCwd:
		if msg.Path == nil {
			return
		}
		c.mu.Lock()
		c.cwd = *msg.Path
		c.mu.Unlock()
		if c.opts.OnCwd != nil {
			c.opts.OnCwd(*msg.Path)
		}

	case ws.MessageTypeExit:
		code := 0
		if msg.Code != nil {
			code = *msg.Code
		}
		c.mu.Lock()
		if c.exited {
			c.mu.Unlock()
			return
		}
		c.exited = true
		c.exitCode = code
		c.mu.Unlock()

		c.surface.Write([]byte(ExitNotice(code)))
		if c.opts.OnExit != nil {
			c.opts.OnExit(code)
		}

	case ws.MessageTypePong:
		select {
		case c.pongs <- struct{}{}:
		default:
		}
	}
}

// ExitNotice is written to the surface when the shell exits.
func ExitNotice(code int) string {
	return "\r\n[terminal exited (code " + strconv.Itoa(code) + ")]\r\n"
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
