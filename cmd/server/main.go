// Echo Desk - multi-tenant support chat backend
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mrlongruoi/echo-desk/internal/agent"
	"github.com/mrlongruoi/echo-desk/internal/api"
	"github.com/mrlongruoi/echo-desk/internal/config"
	"github.com/mrlongruoi/echo-desk/internal/conversation"
	"github.com/mrlongruoi/echo-desk/internal/events"
	"github.com/mrlongruoi/echo-desk/internal/identity"
	"github.com/mrlongruoi/echo-desk/internal/ingest"
	"github.com/mrlongruoi/echo-desk/internal/middleware"
	"github.com/mrlongruoi/echo-desk/internal/orgdir"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	blobs, err := ingest.NewBlobStore(cfg.BlobDir)
	if err != nil {
		slog.Error("Failed to initialize blob store", "error", err)
		os.Exit(1)
	}

	directory := orgdir.NewClient(orgdir.Config{
		BaseURL:   cfg.Directory.BaseURL,
		SecretKey: cfg.Directory.SecretKey,
		Logger:    logger,
	})

	// Initialize services.
	gateway := agent.NewGateway(repo)
	files := ingest.NewService(repo, blobs, logger)
	hub := events.NewHub(logger)

	convs := conversation.NewService(conversation.Config{
		Repo:       repo,
		Gateway:    gateway,
		Publisher:  hub,
		Resolver:   directory,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	})

	// The agent's lifecycle tools act through the in-process system API, so
	// the registry is built after the service and the runner wired back in.
	registry := agent.NewRegistry(logger)
	registry.Register(agent.NewResolveTool(convs.System()))
	registry.Register(agent.NewEscalateTool(convs.System()))

	if cfg.LLM.APIKey == "" {
		slog.Info("LLM_API_KEY not set, agent replies disabled")
	} else {
		provider := agent.NewOpenAI(agent.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			APIBase: cfg.LLM.APIBase,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		})
		runner := agent.NewRunner(agent.RunnerConfig{
			Gateway:  gateway,
			Provider: provider,
			Registry: registry,
			Searcher: files,
			Logger:   logger,
		})
		convs.SetReplier(runner)
		slog.Info("Agent runner initialized", "model", cfg.LLM.Model)
	}

	// Initialize handlers.
	handler := api.NewHandler(convs, files, cfg.MessagePageSize)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := events.NewWebSocketHandler(hub, convs, cfg.AllowedOrigins, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Widget routes carry the contact session id; authorization against the
	// session happens per operation inside the conversation service.
	r.Route("/api/widget", func(r chi.Router) {
		r.Use(identity.VisitorMiddleware())
		handler.RegisterWidgetRoutes(r)
		r.Get("/ws", wsHandler.ServeWidget)
	})

	// Dashboard routes require a verified operator identity.
	r.Route("/api/dashboard", func(r chi.Router) {
		r.Use(identity.OperatorMiddleware(directory, api.WriteAppError))
		handler.RegisterDashboardRoutes(r)
		r.Get("/ws", wsHandler.ServeDashboard)
	})

	// Create server.
	// WebSocket connections require long-lived writes (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
