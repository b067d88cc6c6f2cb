// Studio relay server: frames upstream model output as server-sent events.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/studio-relay/internal/api"
	"github.com/ashureev/studio-relay/internal/config"
	"github.com/ashureev/studio-relay/internal/metrics"
	"github.com/ashureev/studio-relay/internal/middleware"
	"github.com/ashureev/studio-relay/internal/upstream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("Invalid server configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting relay server", "port", cfg.Port, "upstream_mode", cfg.Upstream.Mode)

	provider, err := newProvider(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize upstream provider", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	var m *metrics.Metrics
	var reg *prometheus.Registry
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	handler := api.NewHandler(provider, cfg, m)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handler.RegisterRoutes(r, limiter)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// SSE responses stream for as long as the model generates, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

func newProvider(cfg *config.Config, logger *slog.Logger) (upstream.Provider, error) {
	if cfg.Upstream.Mode == config.UpstreamModeGRPC {
		grpcCfg := upstream.DefaultGrpcProviderConfig()
		grpcCfg.Address = cfg.Upstream.GRPCAddr
		grpcCfg.ChatModel = cfg.Upstream.ChatModel
		grpcCfg.ImageModel = cfg.Upstream.ImageModel
		return upstream.NewGrpcProvider(grpcCfg, logger)
	}
	return upstream.NewHTTPProvider(cfg.Upstream, nil), nil
}
