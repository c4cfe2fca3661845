package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keyhub/internal/api"
	"keyhub/internal/app"
	"keyhub/internal/clientip"
	"keyhub/internal/config"
	"keyhub/internal/logger"
	"keyhub/internal/observability"
	"keyhub/internal/ratelimit"
	"keyhub/internal/scheduler"
	"keyhub/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	envFile     = flag.String("env-file", config.DefaultEnvFile, "Path to .env file (ignored when absent)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if err := run(ver); err != nil {
		slog.Error("keyhub exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ver version.Info) error {
	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	instrument := cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled
	components, err := app.New(cfg, app.WithInstrumentation(instrument))
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}()

	ctx := context.Background()
	if _, err := components.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed key pool: %w", err)
	}

	rollover, err := scheduler.New(components.Accountant, cfg.Usage.RolloverSchedule, components.Location())
	if err != nil {
		return err
	}
	if err := rollover.RunOnce(ctx); err != nil {
		slog.Warn("Initial usage rollover failed", "error", err)
	}
	rollover.Start()

	trusted, err := cfg.Security.TrustedPrefixes()
	if err != nil {
		return err
	}
	resolver := clientip.NewResolver(trusted)
	handlers := api.NewHandlers(components.Service, resolver, cfg.Security.AllowBodyAddress)
	if cfg.Security.AllowBodyAddress {
		slog.Warn("Client addresses are taken from the request body; the one-key-per-address rule is not enforceable")
	}

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.Security.RateLimit.Enabled {
		rlCfg := cfg.Security.RateLimit
		limiter := ratelimit.NewMemoryLimiter(rlCfg.RequestsPerMinute, rlCfg.BurstSize, rlCfg.CleanupInterval)
		defer limiter.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, api.RateLimitKey(resolver))))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"mode", cfg.Server.Mode,
			"storage", cfg.Storage.Type,
			"verify_mode", cfg.Verify.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		slog.Info("Shutting down server")
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rollover.Stop(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	return runErr
}
