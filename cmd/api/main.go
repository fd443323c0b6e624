// Package main is the entry point for the planguard API server.
//
// It loads configuration, assembles the billing engine on the configured
// stores, mounts the quota, billing and webhook handlers on the core chassis
// and serves HTTP until SIGINT or SIGTERM.
package main

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

	"planguard/internal/api/handlers"
	"planguard/internal/app"
	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("planguard API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(ctx, srv, cfg, logger)
}

// buildServer wires the engine and handlers onto a mounted core.Server.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	var prom *telemetry.PrometheusRecorder
	var recorder billing.Recorder
	if cfg.Observability.MetricsEnabled {
		prom = telemetry.NewPrometheusRecorder()
		recorder = prom
	}

	engine, err := app.Build(ctx, cfg, logger, app.Options{
		Recorder: recorder,
		Migrate:  cfg.Environment == "local",
	})
	if err != nil {
		return nil, fmt.Errorf("building billing engine: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = engine.Probes
	srv.Closers = append(srv.Closers, engine.Close)
	if prom != nil {
		srv.Metrics = prom
		srv.MetricsHandler = prom.Handler()
	}

	quotaHandler := handlers.NewQuotaHandler(engine.Gate, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(
		engine.Checkout,
		engine.Portal,
		engine.Reporter,
		engine.Plans,
		srv.Validator,
		logger,
	)
	webhookHandler := handlers.NewStripeWebhookHandler(engine.Webhooks, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		quotaHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// secretProvider resolves *_SECRET_REF variables from files mounted under
// the root filesystem, e.g. STRIPE_SECRET_KEY_SECRET_REF=/run/secrets/stripe.
func secretProvider() config.SecretProvider {
	return config.NewFileProvider(os.DirFS("/"))
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
