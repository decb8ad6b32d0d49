// Package cli wires configuration, storage and services into the chatdesk
// commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatdesk/config"
	"chatdesk/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globals struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree. Configuration is read once, before
// any subcommand runs.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "chatdesk",
		Short:         "Multi-session AI chat assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logger with default level to load config
			tempLogger, err := config.InitLogger("info")
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			g.cfg = config.Load(tempLogger)

			// Re-initialize logger with configured level
			g.logger, err = config.InitLogger(g.cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("re-initialize logger with configured level: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			config.Cleanup()
		},
	}

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newAdminCmd(func(ctx context.Context) (*database.Store, error) {
		return openStore(ctx, g.cfg, g.logger)
	}))
	return root
}

// Execute runs the CLI under a context cancelled by SIGINT or SIGTERM.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// openStore builds the configured storage backend. Postgres gets its schema
// ensured and an LRU read cache in front.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.Store, error) {
	switch cfg.StorageBackend {
	case "", "memory":
		logger.Info("Using in-memory storage", zap.Int64("quota_bytes", cfg.StorageQuotaBytes))
		return database.NewStore(database.NewMemoryKV(cfg.StorageQuotaBytes), cfg.LogRetention, logger), nil
	case "postgres":
		pg, err := database.NewPostgresKV(cfg.DatabaseURL, cfg.StorageQuotaBytes, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure database schema: %w", err)
		}
		cached, err := database.NewCachedKV(pg, cfg.CacheSize)
		if err != nil {
			pg.Close()
			return nil, err
		}
		return database.NewStore(cached, cfg.LogRetention, logger), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
