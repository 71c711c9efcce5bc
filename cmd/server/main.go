package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/calllog/internal/config"
	"github.com/JonMunkholm/calllog/internal/core"
	"github.com/JonMunkholm/calllog/internal/ingest"
	"github.com/JonMunkholm/calllog/internal/logging"
	"github.com/JonMunkholm/calllog/internal/sink"
	"github.com/JonMunkholm/calllog/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"sink", cfg.Sink.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"aggressive", cfg.Import.Aggressive,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("configuration", "config", cfg.String())

	ctx := context.Background()
	store, err := sink.Open(ctx, sinkOptions(cfg))
	if err != nil {
		slog.Error("failed to open call store", "driver", cfg.Sink.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Verify connection
	if err := store.Ping(ctx); err != nil {
		slog.Error("failed to ping call store", "error", err)
		os.Exit(1)
	}
	logConnected(cfg)

	service := core.NewService(store, serviceConfig(cfg))
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartReaper(jobCtx, core.DefaultReapInterval)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		return
	}
	<-stopped
	slog.Info("server stopped")
}

func sinkOptions(cfg *config.Config) sink.Options {
	return sink.Options{
		Driver:          cfg.Sink.Driver,
		DatabaseURL:     cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		SQLitePath:      cfg.Sink.SQLitePath,
		AutoMigrate:     cfg.Sink.AutoMigrate,
	}
}

func serviceConfig(cfg *config.Config) core.ServiceConfig {
	return core.ServiceConfig{
		Import: ingest.Options{
			BatchSize:            cfg.Import.BatchSize,
			WorkerCount:          cfg.Import.Workers,
			MaxConcurrentBatches: cfg.Import.MaxConcurrentBatches,
			Aggressive:           cfg.Import.Aggressive,
			AggressivePause:      cfg.Import.AggressivePause,
			ConservativePause:    cfg.Import.ConservativePause,
		},
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWaitTime:   cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
		ResultTTL:     cfg.Import.ResultTTL,
	}
}

// logConnected logs which store we connected to without leaking credentials.
func logConnected(cfg *config.Config) {
	switch cfg.Sink.Driver {
	case sink.DriverPostgres:
		slog.Info("connected to database", "name", sink.DatabaseName(cfg.Database.URL))
	case sink.DriverSQLite:
		slog.Info("opened sqlite database", "path", cfg.Sink.SQLitePath)
	default:
		slog.Warn("using in-memory call store; data is lost on exit")
	}
}
