package handlers

import (
	"github.com/gin-gonic/gin"
)

// TerminalHandler mounts the WebSocket session bridge.
type TerminalHandler struct {
	path   string
	handle gin.HandlerFunc
}

// NewTerminalHandler creates a TerminalHandler serving handle at path.
func NewTerminalHandler(path string, handle gin.HandlerFunc) *TerminalHandler {
	return &TerminalHandler{path: path, handle: handle}
}

// RegisterRoutes registers the WebSocket route. The path is absolute, so it
// is mounted on the engine rather than a group.
func (h *TerminalHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET(h.path, h.handle)
}
