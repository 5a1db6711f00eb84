package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/workspace-dashboard/backend/api/handlers"
	"github.com/workspace-dashboard/backend/internal/apps"
	"github.com/workspace-dashboard/backend/internal/config"
	"github.com/workspace-dashboard/backend/internal/db"
	"github.com/workspace-dashboard/backend/internal/logging"
	"github.com/workspace-dashboard/backend/internal/metrics"
	"github.com/workspace-dashboard/backend/internal/repository"
	"github.com/workspace-dashboard/backend/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	sessionRepo := repository.NewSessionRepository(database)
	if n, err := sessionRepo.MarkOrphaned(context.Background()); err != nil {
		logger.Warn("failed to mark orphaned sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("marked orphaned sessions closed", zap.Int64("count", n))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appRegistry := apps.NewRegistry(apps.Options{
		EnvPath:       cfg.Apps.EnvPath,
		DefaultDomain: cfg.Apps.DefaultDomain,
		ProbeHost:     cfg.Apps.ProbeHost,
		ProbeTimeout:  cfg.Apps.ProbeTimeout,
		Logger:        logger,
	})
	go func() {
		if err := appRegistry.Watch(ctx); err != nil {
			// Without a watch the file is read on every request.
			logger.Warn("workspace env not watched", zap.Error(err))
		}
	}()

	bridge := session.NewBridge(session.BridgeConfig{
		Session: session.Options{
			DefaultCols: uint16(cfg.Terminal.Cols),
			DefaultRows: uint16(cfg.Terminal.Rows),
			CwdDebounce: cfg.Terminal.CwdDebounce,
		},
		RecordDir:      cfg.Terminal.RecordDir,
		AllowedOrigins: cfg.Terminal.AllowedOrigins,
	}, sessionRepo, m, logger)

	router := newRouter(routes{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		gatherer: registry,
		sessions: handlers.NewSessionHandler(sessionRepo, bridge, logger),
		apps:     handlers.NewAppsHandler(appRegistry),
		terminal: handlers.NewTerminalHandler(cfg.Terminal.WSPath, bridge.Handle),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("ws_path", cfg.Terminal.WSPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// bridge closes its sessions itself.
	logger.Info("shutting down", zap.Int("open_sessions", bridge.Count()))
	if err := bridge.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions did not close in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
