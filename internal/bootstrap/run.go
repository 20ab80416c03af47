package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/verity-dq/verity/config"
	"github.com/verity-dq/verity/internal/migrate"
)

// Run is the application entrypoint shared by the server binary. It connects
// infrastructure, wires the container, and runs the enabled services until a
// termination signal arrives.
func Run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ValidateServiceConfig(cfg); err != nil {
		return err
	}
	logger.Info("starting verity",
		"environment", cfg.Environment,
		"services", EnabledServiceNames(cfg))

	db, err := ConnectDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if cfg.Postgres.RunMigrationsOnStart {
		if err := migrate.Run(ctx, db); err != nil {
			return errors.Join(fmt.Errorf("run migrations: %w", err), db.Close())
		}
	}

	redisClient, err := ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return errors.Join(err, db.Close())
	}

	container, err := NewContainer(cfg, logger, db, redisClient)
	if err != nil {
		return errors.Join(err, redisClient.Close(), db.Close())
	}
	defer container.Close()

	if err := container.SeedBootstrapAdmin(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.IsHTTPServerEnabled() {
		group.Go(func() error {
			return runHTTPServer(groupCtx, cfg, container, logger)
		})
	}

	if cfg.IsOrchestratorEnabled() {
		if cfg.SchedulerGateOpen() {
			group.Go(func() error {
				return container.Runner.Run(groupCtx)
			})
		} else {
			logger.Info("orchestrator gate closed, scheduler will not run",
				"environment", cfg.Environment)
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// runHTTPServer serves the API until the context is cancelled, then shuts
// down gracefully within the configured timeout.
func runHTTPServer(
	ctx context.Context,
	cfg *config.AppConfig,
	container *Container,
	logger *slog.Logger,
) error {
	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      container.Router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	logger.Info("http server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
