package handlers

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/internal/model"
)

// SessionStore reads and deletes terminal session records.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*model.TerminalSession, error)
	List(ctx context.Context, limit int) ([]*model.TerminalSession, error)
	Delete(ctx context.Context, id string) error
}

// LiveSessions reports and ends sessions served by this process.
type LiveSessions interface {
	Active(id string) bool
	CloseSession(id string) error
}

// SessionHandler handles HTTP requests for terminal session records.
type SessionHandler struct {
	store SessionStore
	live  LiveSessions
	log   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store SessionStore, live LiveSessions, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		store: store,
		live:  live,
		log:   logger,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID            string `json:"id"`
	Shell         string `json:"shell"`
	PID           *int   `json:"pid,omitempty"`
	WorkspaceRoot string `json:"workspaceRoot"`
	Cwd           string `json:"cwd,omitempty"`
	Status        string `json:"status"`
	ExitCode      *int   `json:"exitCode,omitempty"`
	HasRecording  bool   `json:"hasRecording"`
	PreviewLine   string `json:"previewLine,omitempty"`
	RemoteAddr    string `json:"remoteAddr,omitempty"`
	Duration      string `json:"duration"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func toSessionResponse(s *model.TerminalSession) *SessionResponse {
	return &SessionResponse{
		ID:            s.ID,
		Shell:         s.Shell,
		PID:           s.PID,
		WorkspaceRoot: s.WorkspaceRoot,
		Cwd:           s.Cwd,
		Status:        string(s.Status),
		ExitCode:      s.ExitCode,
		HasRecording:  s.HasRecording,
		PreviewLine:   s.PreviewLine,
		RemoteAddr:    s.RemoteAddr,
		Duration:      formatDuration(s.Duration()),
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration rounded to the second.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// reconcile reports a running record whose session is not served here as
// closed. The row itself is left for the bridge to finish.
func (h *SessionHandler) reconcile(s *model.TerminalSession) {
	if s.Status == model.SessionStatusRunning && !h.live.Active(s.ID) {
		s.Status = model.SessionStatusClosed
	}
}

// lookup fetches a record and writes the error response if it fails.
func (h *SessionHandler) lookup(c *gin.Context) (*model.TerminalSession, bool) {
	id := c.Param("id")
	sess, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+id+" not found")
			return nil, false
		}
		h.log.Error("failed to get session", zap.String("session_id", id), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session")
		return nil, false
	}
	h.reconcile(sess)
	return sess, true
}

// List handles GET /api/terminal/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("failed to list sessions", zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions")
		return
	}

	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		h.reconcile(sess)
		response[i] = toSessionResponse(sess)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/terminal/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Delete handles DELETE /api/terminal/sessions/:id. Live sessions cannot be
// deleted.
func (h *SessionHandler) Delete(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.live.Active(sess.ID) {
		sendError(c, http.StatusConflict, "SESSION_RUNNING", model.ErrSessionRunning.Error())
		return
	}

	if sess.RecordingPath != "" {
		if err := os.Remove(sess.RecordingPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.log.Warn("failed to remove recording", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	if err := h.store.Delete(c.Request.Context(), sess.ID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sess.ID+" not found")
			return
		}
		h.log.Error("failed to delete session", zap.String("session_id", sess.ID), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete session")
		return
	}
	c.Status(http.StatusNoContent)
}

// Close handles POST /api/terminal/sessions/:id/close. The client sees the
// socket drop without an exit frame.
func (h *SessionHandler) Close(c *gin.Context) {
	id := c.Param("id")
	if err := h.live.CloseSession(id); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+id+" is not running")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to close session")
		return
	}
	c.Status(http.StatusAccepted)
}

// GetRecording handles GET /api/terminal/sessions/:id/recording.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if sess.RecordingPath == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+sess.ID)
		return
	}
	if _, err := os.Stat(sess.RecordingPath); err != nil {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", model.ErrRecordingNotFound.Error())
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sess.ID+".cast")
	c.File(sess.RecordingPath)
}

// RegisterRoutes registers the session routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/terminal/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/close", h.Close)
		sessions.GET("/:id/recording", h.GetRecording)
	}
}
