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

	"github.com/Alcumus/awe-library/internal/api"
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/connectivity"
	"github.com/Alcumus/awe-library/internal/dataservice"
	"github.com/Alcumus/awe-library/internal/docservice"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/events"
	"github.com/Alcumus/awe-library/internal/instance"
	"github.com/Alcumus/awe-library/internal/localstore"
	"github.com/Alcumus/awe-library/internal/mcpserver"
	"github.com/Alcumus/awe-library/internal/retrieval"
	"github.com/Alcumus/awe-library/internal/sendqueue"
	"github.com/Alcumus/awe-library/internal/sse"
	"github.com/Alcumus/awe-library/internal/syncapi"
	"github.com/Alcumus/awe-library/internal/tracker"
)

// unreachableSender is the send queue's endpoint in a purely local
// deployment. The monitor is held offline in that case, so the queue never
// drains and nothing is lost; this is the backstop should it try anyway.
type unreachableSender struct{}

func (unreachableSender) SendChanges(context.Context, string, []changelog.Record) error {
	return fmt.Errorf("entry: no sync endpoint configured")
}

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

	// Initialize structured JSON logger. The level is a variable so the
	// config watcher can adjust it at runtime.
	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("sync_url", cfg.Sync.URL),
		slog.String("sync_mode", cfg.Sync.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Local key-value store: change logs, send queue, draft contexts.
	store, err := localstore.Open(cfg.Store.Path, cfg.Store.Prefix)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus(logger)
	monitor := connectivity.NewMonitor(bus, logger)

	// The sync endpoint is optional: without one the library runs purely
	// locally, queueing changes until an endpoint appears in config.
	var endpoint syncapi.Endpoint
	var remote dataservice.Remote
	var sender sendqueue.Sender = unreachableSender{}
	if cfg.Sync.URL != "" {
		client := syncapi.NewClient(cfg.Sync.URL, cfg.Sync.Token)
		endpoint = client
		remote = client
		sender = client
	} else {
		monitor.SetOnline(false)
	}

	data, err := dataservice.Open(cfg.Cache.Path, remote, monitor, logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer data.Close()

	registry := document.NewRegistry()
	queue := sendqueue.New(store, sender, monitor, logger, cfg.Sync.SendWait())
	log := changelog.New(store, registry, queue, logger)
	retriever := retrieval.New(data, cfg.Sync.ReadMode(), registry, log, bus, logger, cfg.Cache.MemoTTL())
	manager := instance.NewManager(store, retriever, log, bus, endpoint, logger, cfg.Sync.SaveWait())
	types := docservice.NewTypes(store)
	docs := docservice.New(data, types, registry, bus, logger, "")
	track := tracker.New(logger, 0)

	// A restored connection drains whatever queued up while offline.
	onlineSub := bus.On([]string{connectivity.EventOnline}, func(string, ...any) {
		queue.Kick()
	})
	defer onlineSub.Close()

	// SSE broker relaying document and connectivity events to clients.
	broker := sse.NewBroker()
	defer broker.Close()
	relaySub := broker.Relay(bus, []string{"data.updated.**", "connectivity.*", "notification.*"})
	defer relaySub.Close()

	// Build API service and router.
	svc := api.NewService(data, retriever, manager, log, queue, docs, track)
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

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the send queue drain loop.
	queue.Start(gCtx)

	// Connectivity probe against the sync endpoint.
	if cfg.Sync.URL != "" && cfg.Sync.ProbeInterval() > 0 {
		g.Go(func() error {
			monitor.Probe(gCtx, cfg.Sync.URL, cfg.Sync.ProbeInterval())
			return nil
		})
	}

	// Watch the config file for runtime log level changes.
	if app.configPath != "" {
		g.Go(func() error {
			watchConfig(gCtx, app.configPath, level, logger)
			return nil
		})
	}

	// MCP stdio server, when requested.
	if app.mcp {
		g.Go(func() error {
			mcp := mcpserver.New(svc)
			logger.Info("Starting MCP stdio server")
			if err := mcp.ServeStdio(); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
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

		// Let in-flight tracked work settle before the stores close.
		if err := track.Wait(shutdownCtx); err != nil {
			logger.Warn("tracked work did not settle before shutdown",
				slog.Int("pending", track.Pending()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
