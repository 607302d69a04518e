// Package main is the entry point for the API server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/config"
	"github.com/carelink-ai/voice-platform/internal/handler"
	"github.com/carelink-ai/voice-platform/internal/history"
	"github.com/carelink-ai/voice-platform/internal/middleware"
	natsclient "github.com/carelink-ai/voice-platform/internal/nats"
	"github.com/carelink-ai/voice-platform/internal/service"
	"github.com/carelink-ai/voice-platform/internal/socket"
	"github.com/carelink-ai/voice-platform/internal/telephony"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/tracing"
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

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "voice-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS. Publishing is best-effort; a broker outage must never
	// take call control down with it.
	var streamManager *natsclient.StreamManager
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("NATS unavailable, event publishing disabled", zap.Error(err))
	} else {
		defer natsClient.Close()
		streamManager = natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Initialize collaborator clients
	telephonyClient := telephony.NewClient(cfg.TelephonyBaseURL, cfg.TelephonyAPIKey, log)
	historyClient := history.NewClient(cfg.HistoryBaseURL, log)
	dialer := &socket.WebsocketDialer{BaseURL: cfg.SocketURL, Log: log}

	// Initialize services
	callSvc := service.NewCallService(telephonyClient, dialer, historyClient, streamManager, cfg.PollInterval, log)
	defer callSvc.Close()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	callHandler := handler.NewCallHandler(callSvc, log)
	streamHandler := handler.NewStreamHandler(callSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/calls", func(r chi.Router) {
			r.Post("/", callHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", callHandler.Get)
				r.Delete("/", callHandler.End)
				r.Get("/timeline", callHandler.Timeline)
				r.Get("/stream", streamHandler.Stream)
			})
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
