// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/gaidenhq/gaiden/internal/api"
	"github.com/gaidenhq/gaiden/internal/guideservice"
	"github.com/gaidenhq/gaiden/internal/inbox"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/ingest"
	"github.com/gaidenhq/gaiden/internal/position"
	"github.com/gaidenhq/gaiden/internal/sse"
	"github.com/gaidenhq/gaiden/internal/storage"
	"github.com/gaidenhq/gaiden/internal/window"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_path", cfg.Library.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker, wired into the service for import/delete events.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc, db, tracker, cache, err := buildService(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer db.Close()

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start inbox watcher when a drop directory is configured.
	if cfg.Inbox.Path != "" {
		g.Go(func() error {
			if err := inbox.Watch(gCtx, svc, cfg.Inbox.Path, logger); err != nil {
				logger.Error("inbox watcher error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Flush the pending reading position before the process exits.
		if err := tracker.Close(); err != nil {
			logger.Error("position tracker shutdown error", slog.String("error", err.Error()))
		}
		cache.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// buildService wires storage, index, cache, and tracker into a guide
// service. The caller owns closing the returned DB and tracker.
func buildService(cfg *Config, logger *slog.Logger, broker *sse.Broker) (*guideservice.Service, *index.DB, *position.Tracker, *window.Cache, error) {
	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create library dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init index: %w", err)
	}

	cache := window.New(window.Config{
		ChunkLines:     cfg.Window.ChunkLines,
		MaxBytes:       cfg.Window.MaxBytes,
		PrefetchChunks: cfg.Window.PrefetchChunks,
	}, db, store)

	tracker := position.New(db, logger, cfg.Position.SettleInterval)

	svc := guideservice.New(db, store, cache, tracker, broker, logger,
		ingest.Options{HeadingThreshold: cfg.Ingest.HeadingThreshold})
	return svc, db, tracker, cache, nil
}
