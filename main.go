package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ekaya-fusion",
		Short:         "Fact fusion and confirmation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.LoadFile(configPath, Version)
		if err != nil {
			return nil, nil, err
		}
		logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP API with its retention schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return withSQLDB(cfg, func(db *sql.DB) error {
				return database.RunMigrations(db, logger)
			})
		},
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default one step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("steps must be an integer: %w", err)
				}
				steps = n
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return withSQLDB(cfg, func(db *sql.DB) error {
				return database.RollbackMigrations(db, steps, logger)
			})
		},
	})

	expire := &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue confirmations and purge rejected drafts once, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runSweep(cmd.Context(), cfg, logger)
		},
	}

	root.AddCommand(serve, migrate, expire)
	return root
}

func withSQLDB(cfg *config.Config, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("embeddings", cfg.Embedding.Enabled),
		zap.Int("kafka_brokers", len(cfg.Notify.KafkaBrokers)),
	)

	if err := withSQLDB(cfg, func(db *sql.DB) error { return database.RunMigrations(db, logger) }); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.retention.RunExpiryScheduler(ctx, cfg.Confirmation.ExpireInterval)
	go a.retention.RunPurgeScheduler(ctx, cfg.Approval.PurgeInterval)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-fusion", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	expired, err := a.retention.ExpireConfirmations(ctx)
	if err != nil {
		return err
	}
	purged, err := a.retention.PurgeRejected(ctx)
	if err != nil {
		return err
	}
	logger.Info("Sweep complete", zap.Int64("expired", expired), zap.Int64("purged", purged))
	return nil
}
