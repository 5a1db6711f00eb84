package session

import (
	"io"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/internal/config"
	"github.com/workspace-dashboard/backend/internal/pty"
	"github.com/workspace-dashboard/backend/internal/ws"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultCols         = 120
	DefaultRows         = 36
	DefaultCwdDebounce  = 140 * time.Millisecond
	DefaultDrainTimeout = 250 * time.Millisecond
)

// Process is a running shell attached to a pseudo-terminal.
type Process interface {
	io.ReadWriter
	PID() int
	Resize(rows, cols uint16) error
	Wait() (int, error)
	Kill() error
	Close() error
}

// Spawner starts a shell process.
type Spawner func(opts pty.StartOptions) (Process, error)

// StartPTY spawns opts on a real pseudo-terminal.
func StartPTY(opts pty.StartOptions) (Process, error) {
	p, err := pty.Start(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Transport carries control messages for one session. *ws.Conn implements it.
type Transport interface {
	ReadFrame() ([]byte, error)
	Send(msg ws.ServerMessage) error
	CloseWithStatus(code int, reason string) error
	Close() error
}

// Options configures a Session. Zero fields take the package defaults.
type Options struct {
	Spawner      Spawner
	Prober       pty.CwdProber
	Env          config.Env
	GOOS         string
	DefaultCols  uint16
	DefaultRows  uint16
	CwdDebounce  time.Duration
	DrainTimeout time.Duration
	Hooks        Hooks
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Spawner == nil {
		o.Spawner = StartPTY
	}
	if o.Prober == nil {
		o.Prober = pty.NewCwdProber()
	}
	if o.Env == nil {
		o.Env = config.OSEnv{}
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.DefaultCols == 0 {
		o.DefaultCols = DefaultCols
	}
	if o.DefaultRows == 0 {
		o.DefaultRows = DefaultRows
	}
	if o.CwdDebounce <= 0 {
		o.CwdDebounce = DefaultCwdDebounce
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// StartInfo describes a spawned (or attempted) shell.
type StartInfo struct {
	PID           int
	Shell         string
	WorkspaceRoot string
	Cols          uint16
	Rows          uint16
}

// Hooks observe a session. All are optional. Hooks tied to outgoing frames
// run while the session lock is held and must not call back into the
// session. OnClose runs last, once, after every other hook has returned.
type Hooks struct {
	OnStart   func(info StartInfo)
	OnReceive func(msgType ws.MessageType)
	OnInput   func(data []byte)
	OnResize  func(cols, rows uint16)
	OnSend    func(msgType ws.MessageType)
	OnOutput  func(data []byte)
	OnCwd     func(label string)
	OnExit    func(code int)
	OnClose   func(reason CloseReason)
}

func (h Hooks) start(info StartInfo) {
	if h.OnStart != nil {
		h.OnStart(info)
	}
}

func (h Hooks) receive(t ws.MessageType) {
	if h.OnReceive != nil {
		h.OnReceive(t)
	}
}

func (h Hooks) input(data []byte) {
	if h.OnInput != nil {
		h.OnInput(data)
	}
}

func (h Hooks) resize(cols, rows uint16) {
	if h.OnResize != nil {
		h.OnResize(cols, rows)
	}
}

func (h Hooks) sent(msg ws.ServerMessage) {
	if h.OnSend != nil {
		h.OnSend(msg.Type)
	}
	switch {
	case msg.Type == ws.MessageTypeOutput && msg.Data != nil && h.OnOutput != nil:
		h.OnOutput([]byte(*msg.Data))
	case msg.Type == ws.MessageTypeCwd && msg.Path != nil && h.OnCwd != nil:
		h.OnCwd(*msg.Path)
	}
}

func (h Hooks) exit(code int) {
	if h.OnExit != nil {
		h.OnExit(code)
	}
}

func (h Hooks) close(reason CloseReason) {
	if h.OnClose != nil {
		h.OnClose(reason)
	}
}
