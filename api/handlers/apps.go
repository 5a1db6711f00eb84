package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/workspace-dashboard/backend/internal/apps"
)

// AppLister lists workspace apps with their status.
type AppLister interface {
	List(ctx context.Context) (apps.Listing, error)
}

// AppsHandler serves the app registry and the liveness check.
type AppsHandler struct {
	registry AppLister
}

// NewAppsHandler creates a new AppsHandler.
func NewAppsHandler(registry AppLister) *AppsHandler {
	return &AppsHandler{registry: registry}
}

// Health handles GET /api/health.
func (h *AppsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// List handles GET /api/apps.
func (h *AppsHandler) List(c *gin.Context) {
	listing, err := h.registry.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "APPS_UNAVAILABLE", "Failed to check apps: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, listing)
}

// RegisterRoutes registers the app routes on a Gin router group.
func (h *AppsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/apps", h.List)
}
