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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/db"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/jobs"
	"github.com/ainative/accounts/internal/safego"
	"github.com/ainative/accounts/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the background jobs and the metrics endpoint",
	Long: `Apply pending migrations, seed the system roles, then run the usage
rollover and API key expiry jobs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, database, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.Name)

	// Migrations run on every start so a fresh deployment never needs a separate step.
	slog.Info("running database migrations")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	if err := repositories.NewRoleRepository(database).EnsureSystemRoles(ctx, models.SystemRoles()); err != nil {
		return fmt.Errorf("failed to seed system roles: %w", err)
	}

	telemetry.StartDBStatsCollector(ctx, database.DB, 30*time.Second)

	apiKeyRepo := repositories.NewAPIKeyRepository(database)
	userRepo := repositories.NewUserRepository(database)

	notifier := jobs.NewAPIKeyExpiryNotifier(apiKeyRepo, userRepo, &cfg.Notifications)
	safego.Go("api-key-expiry-notifier", func() { notifier.Start(ctx) })
	defer notifier.Stop()

	if cfg.Jobs.UsageRolloverEnabled {
		rollover := jobs.NewUsageRollover(apiKeyRepo, cfg.Jobs.UsageRolloverInterval)
		safego.Go("usage-rollover", func() { rollover.Start(ctx) })
		defer rollover.Stop()
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:         cfg.Telemetry.Metrics.GetMetricsAddress(),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		safego.Go("metrics-server", func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server forced to shutdown: %w", err)
		}
	}

	slog.Info("stopped gracefully")
	return nil
}
