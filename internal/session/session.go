// Package session bridges one WebSocket connection to one interactive shell.
package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/internal/config"
	"github.com/workspace-dashboard/backend/internal/pty"
	"github.com/workspace-dashboard/backend/internal/shell"
	"github.com/workspace-dashboard/backend/internal/ws"
)

// State is the lifecycle state of a session.
type State int

const (
	StateSpawning State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CloseReason records which path ended a session.
type CloseReason string

const (
	ReasonExited      CloseReason = "exited"
	ReasonPeerClosed  CloseReason = "peer_closed"
	ReasonSendFailed  CloseReason = "send_failed"
	ReasonShutdown    CloseReason = "shutdown"
	ReasonSpawnFailed CloseReason = "spawn_failed"
)

// SpawnError is returned by Run when the shell could not be started.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// rawInput labels frames that were not control messages.
const rawInput ws.MessageType = "raw"

const readChunkSize = 32 * 1024

// Session owns one shell process for the lifetime of one transport.
type Session struct {
	id        string
	transport Transport
	opts      Options
	hooks     Hooks
	log       *zap.Logger

	mu         sync.Mutex
	state      State
	closed     bool
	reason     CloseReason
	proc       Process
	info       StartInfo
	pendingCwd *cwdProbe

	wg      sync.WaitGroup
	cleaned chan struct{}
	done    chan struct{}
}

// cwdProbe is the handle of the single scheduled cwd probe. Re-arming
// replaces the session's handle, which invalidates the old one.
type cwdProbe struct {
	stop func() bool
}

// New creates a session. Nothing is spawned until Run.
func New(id string, transport Transport, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:        id,
		transport: transport,
		opts:      opts,
		hooks:     opts.Hooks,
		log:       opts.Logger.With(zap.String("session_id", id)),
		cleaned:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns what is known about the shell.
func (s *Session) Info() StartInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Reason returns why the session closed, or "" while it is open.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed when Run has returned and OnClose has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down without notifying the client. It is safe to
// call at any time and more than once.
func (s *Session) Close() {
	s.finish(ReasonShutdown, nil)
}

// Run spawns the shell and relays between it and the transport until one
// side goes away. It returns a *SpawnError if the shell could not start and
// nil otherwise. Cancelling ctx closes the session.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.finish(ReasonShutdown, nil)
		case <-s.cleaned:
		}
	}()

	env := config.SessionEnv(s.opts.Env)
	shellPath := shell.Detect(env.Shell, s.opts.GOOS)
	profile := shell.ProfileFor(shellPath)

	s.mu.Lock()
	s.info = StartInfo{
		Shell:         shellPath,
		WorkspaceRoot: env.WorkspaceRoot,
		Cols:          s.opts.DefaultCols,
		Rows:          s.opts.DefaultRows,
	}
	s.mu.Unlock()

	proc, err := s.opts.Spawner(pty.StartOptions{
		Command:     profile.Command,
		Args:        profile.Args,
		Env:         profile.Environ(os.Environ()),
		Dir:         env.WorkspaceRoot,
		InitialRows: s.opts.DefaultRows,
		InitialCols: s.opts.DefaultCols,
	})
	if err != nil {
		s.log.Warn("failed to spawn shell",
			zap.String("shell", shellPath),
			zap.String("dir", env.WorkspaceRoot),
			zap.Error(err),
		)
		s.finish(ReasonSpawnFailed, func() {
			s.transport.CloseWithStatus(ws.CloseInternalError, "Failed to start terminal")
		})
		s.hooks.close(s.Reason())
		close(s.done)
		return &SpawnError{Shell: shellPath, Err: err}
	}

	s.mu.Lock()
	s.proc = proc
	s.info.PID = proc.PID()
	info := s.info
	closedDuringSpawn := s.closed
	if !closedDuringSpawn {
		s.state = StateActive
	}
	s.mu.Unlock()

	if closedDuringSpawn {
		proc.Kill()
		proc.Close()
	}

	s.log.Info("terminal session started",
		zap.Int("pid", info.PID),
		zap.String("shell", info.Shell),
		zap.String("dir", info.WorkspaceRoot),
	)
	s.hooks.start(info)

	s.emitCwd(proc, env)

	// The relay is not waited for: after cleanup it can no longer send, and
	// its read ends when the process is closed.
	outputDone := make(chan struct{})
	s.wg.Add(1)
	go s.relayOutput(proc, outputDone)
	go s.awaitExit(proc, outputDone)

	s.readLoop(proc, env)

	<-s.cleaned
	s.wg.Wait()

	reason := s.Reason()
	s.log.Info("terminal session closed", zap.Int("pid", info.PID), zap.String("reason", string(reason)))
	s.hooks.close(reason)
	close(s.done)
	return nil
}

func (s *Session) readLoop(proc Process, env config.Session) {
	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			if s.finish(ReasonPeerClosed, nil) {
				s.log.Debug("transport closed", zap.Error(err))
			}
			return
		}
		s.handleFrame(proc, env, frame)
	}
}

func (s *Session) handleFrame(proc Process, env config.Session, frame []byte) {
	if s.isClosed() {
		return
	}

	msg, ok := ws.ParseClientMessage(frame)
	if !ok {
		s.hooks.receive(rawInput)
		s.writeInput(proc, frame)
		return
	}
	s.hooks.receive(msg.Type)

	switch msg.Type {
	case ws.MessageTypeInput:
		data := []byte(msg.Data)
		s.writeInput(proc, data)
		if bytes.ContainsAny(data, "\r\n") {
			s.scheduleCwdProbe(proc, env)
		}

	case ws.MessageTypeResize:
		cols, rows := ws.ClampSize(msg.Cols, msg.Rows)
		if err := proc.Resize(rows, cols); err != nil {
			s.log.Debug("resize failed", zap.Error(err))
			return
		}
		s.hooks.resize(cols, rows)

	case ws.MessageTypePing:
		s.send(ws.Pong())
	}
}

func (s *Session) writeInput(proc Process, data []byte) {
	if len(data) == 0 {
		return
	}
	if _, err := proc.Write(data); err != nil {
		s.log.Debug("write to shell failed", zap.Error(err))
		return
	}
	s.hooks.input(data)
}

// relayOutput forwards shell output in order. An incomplete UTF-8 sequence
// at the end of a read is held back and completed by the next read.
func (s *Session) relayOutput(proc Process, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, readChunkSize)
	var carry []byte
	for {
		n, err := proc.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := completePrefix(chunk)
			carry = append([]byte(nil), chunk[cut:]...)
			if cut > 0 && !s.send(ws.Output(string(chunk[:cut]))) {
				return
			}
		}
		if err != nil {
			if len(carry) > 0 {
				s.send(ws.Output(string(carry)))
			}
			return
		}
	}
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func (s *Session) awaitExit(proc Process, outputDone <-chan struct{}) {
	defer s.wg.Done()

	code, err := proc.Wait()
	if err != nil {
		s.log.Debug("wait failed", zap.Error(err))
	}

	drain := time.NewTimer(s.opts.DrainTimeout)
	defer drain.Stop()
	select {
	case <-outputDone:
	case <-drain.C:
	case <-s.cleaned:
	}

	s.exit(code)
}

// exit reports the exit code, closes the transport normally, and cleans up.
func (s *Session) exit(code int) {
	sent := s.finish(ReasonExited, func() {
		s.sendLocked(ws.Exit(code))
		s.transport.CloseWithStatus(ws.CloseNormal, "Terminal process exited")
	})
	if sent {
		s.log.Debug("shell exited", zap.Int("code", code))
		s.hooks.exit(code)
	}
}

func (s *Session) scheduleCwdProbe(proc Process, env config.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.pendingCwd != nil {
		s.pendingCwd.stop()
	}
	h := &cwdProbe{}
	t := time.AfterFunc(s.opts.CwdDebounce, func() { s.fireCwdProbe(h, proc, env) })
	h.stop = t.Stop
	s.pendingCwd = h
}

func (s *Session) fireCwdProbe(h *cwdProbe, proc Process, env config.Session) {
	s.mu.Lock()
	if s.closed || s.pendingCwd != h {
		s.mu.Unlock()
		return
	}
	s.pendingCwd = nil
	s.mu.Unlock()

	s.emitCwd(proc, env)
}

// emitCwd probes the shell's directory and sends it. Failures are skipped.
func (s *Session) emitCwd(proc Process, env config.Session) {
	cwd, err := s.opts.Prober.Cwd(proc.PID())
	if err != nil {
		return
	}
	s.send(ws.Cwd(shell.FormatCwd(cwd, env.WorkspaceRoot, env.Home)))
}

// send writes msg unless the session is closed. A failed write closes it.
func (s *Session) send(msg ws.ServerMessage) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	err := s.sendLocked(msg)
	s.mu.Unlock()

	if err != nil {
		if s.finish(ReasonSendFailed, nil) {
			s.log.Debug("send failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (s *Session) sendLocked(msg ws.ServerMessage) error {
	if err := s.transport.Send(msg); err != nil {
		return err
	}
	s.hooks.sent(msg)
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finish flips the session to closed exactly once and releases the pending
// probe, the process, and the transport. farewell, if set, runs under the
// lock before the flag flips, so nothing can be sent after it. finish
// reports whether this call did the cleanup.
func (s *Session) finish(reason CloseReason, farewell func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if farewell != nil {
		farewell()
	}
	s.closed = true
	s.state = StateClosed
	s.reason = reason
	pending := s.pendingCwd
	s.pendingCwd = nil
	proc := s.proc
	s.mu.Unlock()

	if pending != nil {
		pending.stop()
	}
	if proc != nil {
		// Best effort; the process may already be gone.
		proc.Kill()
		proc.Close()
	}
	s.transport.Close()
	close(s.cleaned)
	return true
}
