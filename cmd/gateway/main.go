// Package main is the entry point for the model gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/config"
	"github.com/modelbridge-ai/modelbridge/internal/handler"
	"github.com/modelbridge-ai/modelbridge/internal/middleware"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	providerant "github.com/modelbridge-ai/modelbridge/internal/provider/anthropic"
	provideroai "github.com/modelbridge-ai/modelbridge/internal/provider/openai"
	"github.com/modelbridge-ai/modelbridge/internal/retry"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/internal/service"
	"github.com/modelbridge-ai/modelbridge/internal/store"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
	"github.com/modelbridge-ai/modelbridge/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting model gateway")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "modelbridge", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS if transcript persistence is configured
	var natsClient *store.Client
	var transcripts *store.TranscriptStore
	if cfg.NATSURL != "" {
		natsClient, err = store.Connect(store.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		transcripts = store.NewTranscriptStore(natsClient)
		if err := transcripts.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure transcript stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Shared adapter state: schema cache and client pool
	schemaCache := schema.NewCache(cfg.SchemaCacheSize)
	repairPolicy := chat.RepairPolicy{
		MinOrphans:   cfg.RepairMinOrphans,
		DiscardRatio: cfg.RepairDiscardRatio,
	}

	pool := provider.NewPool(func(backend provider.Backend, credentials string) (provider.Client, error) {
		switch backend {
		case provider.BackendAnthropic:
			return providerant.New(credentials, schemaCache, repairPolicy, log)
		case provider.BackendOpenAI:
			return provideroai.New(credentials, schemaCache, repairPolicy, log)
		default:
			return nil, provider.Errf(backend, "config", provider.KindConfig, "unknown backend")
		}
	})

	credentials := make(map[provider.Backend]string)
	if cfg.AnthropicAPIKey != "" {
		credentials[provider.BackendAnthropic] = cfg.AnthropicAPIKey
	}
	if cfg.OpenAIAPIKey != "" {
		credentials[provider.BackendOpenAI] = cfg.OpenAIAPIKey
	}
	if len(credentials) == 0 {
		log.Warn("no backend API keys configured, all exchanges will fail")
	}

	executor := retry.NewExecutor(retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
		MaxDelay:    cfg.RetryMaxDelay,
	}, provider.IsRetryable)

	// Initialize services and handlers
	chatSvc := service.NewChatService(pool, credentials, executor, transcripts, log)

	healthHandler := handler.NewHealthHandler(natsClient)
	chatHandler := handler.NewChatHandler(chatSvc, transcripts, handler.Defaults{
		Backend:   provider.Backend(cfg.DefaultBackend),
		Model:     cfg.DefaultModel,
		MaxTokens: cfg.DefaultMaxTokens,
	}, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/turns", chatHandler.History)
			r.Post("/messages", chatHandler.Send)
			r.Post("/stream", chatHandler.Stream)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
