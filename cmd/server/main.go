// Qiming - conversational baby naming server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/qiming/internal/api"
	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/config"
	"github.com/ashureev/qiming/internal/flow"
	"github.com/ashureev/qiming/internal/health"
	"github.com/ashureev/qiming/internal/identity"
	"github.com/ashureev/qiming/internal/middleware"
	"github.com/ashureev/qiming/internal/store"
	"github.com/ashureev/qiming/internal/transcript"
	"github.com/ashureev/qiming/internal/workspace"
	"github.com/ashureev/qiming/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	kv, err := store.Open(store.Options{
		Driver:   cfg.Store.Driver,
		DBPath:   cfg.Store.DBPath,
		RedisURL: cfg.Store.RedisURL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = kv.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	var cat *catalog.Static
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Load(cfg.Catalog.Path)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return err
	}
	for _, problem := range cat.Validate() {
		slog.Warn("Catalog inconsistency", "problem", problem)
	}
	if cfg.Catalog.Watch {
		if err := catalog.Watch(ctx, cat, cfg.Catalog.Path, logger); err != nil {
			return err
		}
		slog.Info("Watching catalog for changes", "path", cfg.Catalog.Path)
	}

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.TranscriptLog.Enabled,
		Dir:           cfg.TranscriptLog.Dir,
		GlobalEnabled: cfg.TranscriptLog.GlobalEnabled,
		GlobalPath:    cfg.TranscriptLog.GlobalPath,
		QueueSize:     cfg.TranscriptLog.QueueSize,
		MaxSizeMB:     cfg.TranscriptLog.MaxSizeMB,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	hub := api.NewHub(cfg.SSE.ReplaySize, logger)
	defer hub.Close()

	registry := workspace.NewRegistry(kv, cat, workspace.Config{
		Delays:                flow.DefaultDelays().Scale(cfg.Flow.DelayScale),
		CancelPendingOnSwitch: cfg.Flow.CancelPendingOnSwitch,
		OnEvict:               hub.Forget,
	}, flow.Listeners(hub.Listener(), transcript.Listener(transcripts)), logger)
	defer registry.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(registry, logger)
	flowHandler := api.NewFlowHandler(baseHandler)
	streamHandler := api.NewStreamHandler(baseHandler, hub, api.StreamConfig{
		Keepalive:      cfg.SSE.KeepaliveInterval,
		RetryDelay:     cfg.SSE.RetryDelay,
		AllowedOrigins: cfg.WebSocketOriginPatterns(),
	})
	healthHandler := api.NewHealthHandler(kv, 5*time.Second, func() map[string]any {
		return map[string]any{"workspaces": registry.Len()}
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		flowHandler.RegisterRoutes(r)
		streamHandler.RegisterRoutes(r)
		r.Handle("/*", web.SPAHandler())
	})

	// SSE connections stay open, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return registry.RunSweeper(gctx, time.Minute, cfg.WorkspaceIdleTTL)
	})

	if cfg.GRPCHealthPort != "" {
		healthServer := health.NewServer(kv, health.Config{}, logger)
		g.Go(func() error {
			return healthServer.ListenAndServe(gctx, ":"+cfg.GRPCHealthPort)
		})
	}

	g.Go(func() error {
		// Wait for shutdown signal.
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
