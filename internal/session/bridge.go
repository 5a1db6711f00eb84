package session

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/internal/buffer"
	"github.com/workspace-dashboard/backend/internal/metrics"
	"github.com/workspace-dashboard/backend/internal/model"
	"github.com/workspace-dashboard/backend/internal/recorder"
	"github.com/workspace-dashboard/backend/internal/shell"
	"github.com/workspace-dashboard/backend/internal/ws"
)

const storeTimeout = 5 * time.Second

// Store persists session audit records.
type Store interface {
	Create(ctx context.Context, session *model.TerminalSession) error
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error
	UpdateCwd(ctx context.Context, id string, cwd string) error
	UpdatePreviewLine(ctx context.Context, id string, previewLine string) error
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Session is the template for every session; its Hooks and Logger are
	// replaced by the bridge.
	Session Options

	// RecordDir enables asciinema recordings when non-empty.
	RecordDir string

	AllowedOrigins []string
}

// Bridge accepts WebSocket connections and runs one Session per connection.
type Bridge struct {
	cfg      BridgeConfig
	upgrader *websocket.Upgrader
	store    Store
	metrics  *metrics.Metrics
	log      *zap.Logger
	newID    func() string

	mu       sync.Mutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a Bridge.
func NewBridge(cfg BridgeConfig, store Store, m *metrics.Metrics, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:      cfg,
		upgrader: ws.NewUpgrader(cfg.AllowedOrigins),
		store:    store,
		metrics:  m,
		log:      logger.Named("terminal"),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle upgrades the request and blocks until the session ends.
func (b *Bridge) Handle(c *gin.Context) {
	conn, err := ws.Upgrade(b.upgrader, c.Writer, c.Request)
	if err != nil {
		// The upgrader has already written the HTTP error.
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.KeepAlive(ctx)

	if err := b.Serve(ctx, conn, c.ClientIP()); err != nil {
		c.Error(err)
	}
}

// Serve runs one session over t. The session also ends on Shutdown.
func (b *Bridge) Serve(ctx context.Context, t Transport, remoteAddr string) error {
	b.wg.Add(1)
	defer b.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	id := b.newID()
	obs := &observer{
		bridge:     b,
		id:         id,
		remoteAddr: remoteAddr,
		tail:       buffer.NewTail(buffer.DefaultCapacity),
	}

	opts := b.cfg.Session
	opts.Logger = b.log
	opts.Hooks = obs.hooks()

	s := New(id, t, opts)
	obs.session = s

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.sessions, id)
		b.mu.Unlock()
	}()

	return s.Run(ctx)
}

// Active reports whether the session with id is still being served.
func (b *Bridge) Active(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	return ok
}

// Count returns the number of sessions being served.
func (b *Bridge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// CloseSession ends a live session as if the server were shutting down.
func (b *Bridge) CloseSession(id string) error {
	b.mu.Lock()
	s, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return model.ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Shutdown closes every open session and waits for them to finish.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observer records one session: audit row, recording, metrics, output tail.
type observer struct {
	bridge     *Bridge
	session    *Session
	id         string
	remoteAddr string
	tail       *buffer.Tail

	mu       sync.Mutex
	rec      *recorder.Recorder
	started  bool
	exitCode *int
	cwdSeq   int

	persist sync.Mutex
	pending sync.WaitGroup
}

func (o *observer) hooks() Hooks {
	m := o.bridge.metrics
	return Hooks{
		OnStart: o.start,
		OnReceive: func(t ws.MessageType) {
			m.Message(metrics.DirectionIn, string(t))
		},
		OnInput: func(data []byte) {
			if rec := o.recorder(); rec != nil {
				rec.Input(data)
			}
		},
		OnResize: func(cols, rows uint16) {
			if rec := o.recorder(); rec != nil {
				rec.Resize(int(cols), int(rows))
			}
		},
		OnSend: func(t ws.MessageType) {
			m.Message(metrics.DirectionOut, string(t))
		},
		OnOutput: func(data []byte) {
			o.tail.Write(data)
			m.Output(len(data))
			if rec := o.recorder(); rec != nil {
				rec.Output(data)
			}
		},
		OnCwd: o.updateCwd,
		OnExit: func(code int) {
			o.mu.Lock()
			o.exitCode = &code
			o.mu.Unlock()
		},
		OnClose: o.close,
	}
}

func (o *observer) recorder() *recorder.Recorder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rec
}

func (o *observer) start(info StartInfo) {
	b := o.bridge
	record := &model.TerminalSession{
		ID:            o.id,
		Shell:         info.Shell,
		PID:           &info.PID,
		WorkspaceRoot: info.WorkspaceRoot,
		Status:        model.SessionStatusRunning,
		RemoteAddr:    o.remoteAddr,
		CreatedAt:     time.Now(),
	}
	record.UpdatedAt = record.CreatedAt

	if b.cfg.RecordDir != "" {
		rec, err := recorder.Create(b.cfg.RecordDir, o.id, int(info.Cols), int(info.Rows), map[string]string{
			"SHELL": info.Shell,
			"TERM":  shell.TermType,
		})
		if err != nil {
			b.log.Warn("recording disabled for session", zap.String("session_id", o.id), zap.Error(err))
		} else {
			record.RecordingPath = rec.Path()
		}
		o.mu.Lock()
		o.rec = rec
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.started = true
	o.mu.Unlock()

	b.metrics.SessionOpened()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := b.store.Create(ctx, record); err != nil {
		b.log.Error("failed to store session", zap.String("session_id", o.id), zap.Error(err))
	}
}

// updateCwd runs under the session lock, so the write happens in the
// background. Only the latest label is written.
func (o *observer) updateCwd(label string) {
	o.mu.Lock()
	o.cwdSeq++
	seq := o.cwdSeq
	o.mu.Unlock()

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		o.persist.Lock()
		defer o.persist.Unlock()

		o.mu.Lock()
		stale := seq != o.cwdSeq
		o.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := o.bridge.store.UpdateCwd(ctx, o.id, label); err != nil {
			o.bridge.log.Debug("failed to store cwd", zap.String("session_id", o.id), zap.Error(err))
		}
	}()
}

func (o *observer) close(reason CloseReason) {
	b := o.bridge
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if reason == ReasonSpawnFailed {
		b.metrics.SpawnFailed()
		info := o.session.Info()
		now := time.Now()
		err := b.store.Create(ctx, &model.TerminalSession{
			ID:            o.id,
			Shell:         info.Shell,
			WorkspaceRoot: info.WorkspaceRoot,
			Status:        model.SessionStatusFailed,
			RemoteAddr:    o.remoteAddr,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			b.log.Error("failed to store session", zap.String("session_id", o.id), zap.Error(err))
		}
		return
	}

	o.pending.Wait()

	o.mu.Lock()
	started, code, rec := o.started, o.exitCode, o.rec
	o.mu.Unlock()
	if !started {
		return
	}

	status, outcome := model.SessionStatusClosed, metrics.OutcomeClosed
	if code != nil {
		status, outcome = model.SessionStatusExited, metrics.OutcomeExited
	}
	b.metrics.SessionEnded(outcome)

	if rec != nil {
		rec.Close()
	}
	if line := o.tail.LastLine(); line != "" {
		if err := b.store.UpdatePreviewLine(ctx, o.id, line); err != nil {
			b.log.Debug("failed to store preview line", zap.String("session_id", o.id), zap.Error(err))
		}
	}
	if err := b.store.UpdateStatus(ctx, o.id, status, code); err != nil {
		b.log.Error("failed to store session status", zap.String("session_id", o.id), zap.Error(err))
	}
}
