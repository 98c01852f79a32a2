// Command mcp-user-tools serves the user data tools over HTTP.
//
// Configuration is read from the environment (and .env when present); see
// the config package for the variables and their defaults.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/mcp-user-tools/config"
	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/mcp"
	"github.com/Skryldev/mcp-user-tools/observability"
	"github.com/Skryldev/mcp-user-tools/repo"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Configuration & logging ──────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser := observability.NewLogger(cfg.Log, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────
	shutdownTracing, err := observability.InitTracing(ctx, logger, cfg.OTel.Endpoint, cfg.OTel.ServiceName, mcp.ServerVersion)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	// ── Database ─────────────────────────────────────────────────────────
	hooks := []db.Hook{
		db.NewLogHook(db.LogHookConfig{
			Logger:             logger,
			SlowQueryThreshold: cfg.Database.SlowQuery,
		}),
		db.NewMetricsHook(observability.QueryCollector{}),
		db.NewTracingHook(observability.NewQueryTracer(dbSystem(cfg.Database.Driver))),
	}
	database, err := db.OpenWithDriver(cfg.Database.Driver, cfg.Database.DriverOptions(), cfg.Database.DBConfig(hooks...))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := observability.RegisterPoolStats(prometheus.DefaultRegisterer, database.Raw(), cfg.Database.Driver); err != nil {
		return fmt.Errorf("registering pool metrics: %w", err)
	}

	if err := database.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping database: %w", err)
	}
	logger.Info("database ready",
		"driver", database.Driver().Name(),
		"url", database.RedactedDSN(),
	)

	// ── HTTP server ──────────────────────────────────────────────────────
	svc := repo.NewUserDataService(database, repo.WithQueryTimeout(cfg.Database.QueryTimeout))
	srv, err := mcp.NewServer(svc,
		mcp.WithLogger(logger),
		mcp.WithRequestTimeout(cfg.Server.RequestTimeout),
	)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "tools", srv.Registry().Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// dbSystem maps a driver name to the OpenTelemetry db.system value.
func dbSystem(driver string) string {
	switch driver {
	case "postgres", "pgx":
		return "postgresql"
	case "sqlite3":
		return "sqlite"
	default:
		return driver
	}
}
