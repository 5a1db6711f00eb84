package session

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workspace-dashboard/backend/internal/config"
	"github.com/workspace-dashboard/backend/internal/pty"
	"github.com/workspace-dashboard/backend/internal/ws"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is an in-memory Transport. Frames pushed before the peer
// closes are always delivered before the close is observed.
type fakeTransport struct {
	frames chan []byte

	mu               sync.Mutex
	sent             []ws.ServerMessage
	sendErr          error
	closeCode        int
	closeReason      string
	closeStatusCalls int
	closeCalls       int
	isClosed         bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) push(frame string) {
	t.frames <- []byte(frame)
}

func (t *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.closed:
		select {
		case f := <-t.frames:
			return f, nil
		default:
			return nil, errTransportClosed
		}
	}
}

func (t *fakeTransport) Send(msg ws.ServerMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return errTransportClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) CloseWithStatus(code int, reason string) error {
	t.mu.Lock()
	t.closeStatusCalls++
	t.closeCode = code
	t.closeReason = reason
	t.mu.Unlock()
	t.disconnect()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	t.mu.Unlock()
	t.disconnect()
	return nil
}

// peerClose simulates the client going away.
func (t *fakeTransport) peerClose() {
	t.disconnect()
}

func (t *fakeTransport) disconnect() {
	t.mu.Lock()
	t.isClosed = true
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) messages() []ws.ServerMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ws.ServerMessage(nil), t.sent...)
}

func (t *fakeTransport) ofType(typ ws.MessageType) []ws.ServerMessage {
	var out []ws.ServerMessage
	for _, m := range t.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) closeStatus() (int, string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason, t.closeStatusCalls
}

// fakeProcess is a scripted shell.
type fakeProcess struct {
	pid  int
	out  chan []byte
	exit chan int

	mu       sync.Mutex
	input    bytes.Buffer
	sizes    [][2]uint16 // rows, cols
	kills    int
	closes   int
	outEnded bool

	killed    chan struct{}
	killOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{
		pid:    pid,
		out:    make(chan []byte, 64),
		exit:   make(chan int, 1),
		killed: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (p *fakeProcess) emit(s string) {
	p.out <- []byte(s)
}

// exitWith ends output and then the process.
func (p *fakeProcess) exitWith(code int) {
	p.mu.Lock()
	if !p.outEnded {
		p.outEnded = true
		close(p.out)
	}
	p.mu.Unlock()
	p.exit <- code
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	select {
	case data, ok := <-p.out:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.Write(b)
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Resize(rows, cols uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, [2]uint16{rows, cols})
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	select {
	case code := <-p.exit:
		return code, nil
	case <-p.killed:
		return -1, nil
	}
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakeProcess) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *fakeProcess) resizes() [][2]uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]uint16(nil), p.sizes...)
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeProber returns a settable directory.
type fakeProber struct {
	mu    sync.Mutex
	dir   string
	err   error
	calls int
}

func (f *fakeProber) Cwd(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.dir, f.err
}

func (f *fakeProber) set(dir string) {
	f.mu.Lock()
	f.dir = dir
	f.mu.Unlock()
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ pty.CwdProber = (*fakeProber)(nil)

// harness runs one session against fakes.
type harness struct {
	session   *Session
	transport *fakeTransport
	process   *fakeProcess
	prober    *fakeProber
	started   pty.StartOptions
	result    chan error
}

func startHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		process:   newFakeProcess(4242),
		prober:    &fakeProber{dir: "/home/user/ws"},
		result:    make(chan error, 1),
	}
	var startMu sync.Mutex
	opts.Spawner = func(so pty.StartOptions) (Process, error) {
		startMu.Lock()
		h.started = so
		startMu.Unlock()
		return h.process, nil
	}
	if opts.Prober == nil {
		opts.Prober = h.prober
	}
	if opts.Env == nil {
		opts.Env = testEnv()
	}
	if opts.GOOS == "" {
		opts.GOOS = "linux"
	}

	h.session = New("test-session", h.transport, opts)
	ctx := testContext(t)
	go func() { h.result <- h.session.Run(ctx) }()

	t.Cleanup(func() {
		h.session.Close()
		select {
		case <-h.session.Done():
		case <-time.After(5 * time.Second):
			t.Error("session did not finish")
		}
	})
	return h
}

func testEnv() config.MapEnv {
	return config.MapEnv{
		"SHELL":          "/bin/bash",
		"WORKSPACE_ROOT": "/home/user/ws",
		"HOME":           "/home/user",
	}
}

func testEnvWithout(key string) config.MapEnv {
	env := testEnv()
	delete(env, key)
	return env
}

// wait blocks until Run returns.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func pathOf(m ws.ServerMessage) string {
	if m.Path == nil {
		return ""
	}
	return *m.Path
}

func dataOf(m ws.ServerMessage) string {
	if m.Data == nil {
		return ""
	}
	return *m.Data
}
