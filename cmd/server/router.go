package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/api/handlers"
	"github.com/workspace-dashboard/backend/api/middleware"
	"github.com/workspace-dashboard/backend/internal/config"
	"github.com/workspace-dashboard/backend/internal/logging"
	"github.com/workspace-dashboard/backend/internal/metrics"
)

// routes is everything the router mounts.
type routes struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	sessions *handlers.SessionHandler
	apps     *handlers.AppsHandler
	terminal *handlers.TerminalHandler
}

func newRouter(rt routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(rt.logger))
	r.Use(middleware.CORS(rt.cfg.CORS.Origins))
	r.Use(metrics.Middleware(rt.metrics))

	r.GET("/metrics", metrics.Handler(rt.gatherer))

	// The WebSocket route is mounted before the rate limiter: a session is
	// one long request.
	rt.terminal.RegisterRoutes(r)

	api := r.Group("/api")
	if rt.cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rt.cfg.RateLimit.RequestsPerSecond,
			Burst:             rt.cfg.RateLimit.Burst,
		}))
	}
	{
		rt.apps.RegisterRoutes(api)
		rt.sessions.RegisterRoutes(api)
	}

	return r
}
