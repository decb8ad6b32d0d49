package cli

import (
	"fmt"

	"chatdesk/admin"
	"chatdesk/auth"
	"chatdesk/chat"
	"chatdesk/llmclient"
	"chatdesk/metrics"
	"chatdesk/web"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(g *globals) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger := g.cfg, g.logger
			if port > 0 {
				cfg.WebPort = port
			}

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			generator, err := llmclient.New(ctx, cfg, store, logger.Named("llm"))
			if err != nil {
				return fmt.Errorf("initialize generation client: %w", err)
			}

			rec := metrics.New()
			authService := auth.NewService(store, store, cfg.TokensPerMessage, logger.Named("auth"))
			manager, err := chat.NewManager(cfg.MaxActiveUsers, chat.Deps{
				Generator: generator,
				Store:     store,
				Settings:  store,
				Tokens:    authService,
				Metrics:   rec,
			}, chat.Options{
				HistoryWindow:      cfg.HistoryWindow,
				RequestTimeout:     cfg.LLMRequestTimeout,
				PersistFailedTurns: cfg.PersistFailedTurns,
			}, logger.Named("chat"))
			if err != nil {
				return err
			}
			defer manager.Close()

			server := web.NewServer(web.Dependencies{
				Manager:  manager,
				Auth:     authService,
				Admin:    admin.NewService(store, logger.Named("admin")),
				Settings: store,
				Metrics:  rec,
			}, logger, cfg)

			group, gctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return server.Start(gctx, fmt.Sprintf(":%d", cfg.WebPort))
			})
			if cfg.CleanupEnabled && cfg.CleanupInterval > 0 {
				cleanup := web.NewCleanupService(store, logger.Named("cleanup"))
				group.Go(func() error {
					logger.Info("Starting session cleanup loop",
						zap.Duration("interval", cfg.CleanupInterval),
						zap.Duration("retention", cfg.SessionRetentionAge))
					return cleanup.Run(gctx, cfg.CleanupInterval, cfg.SessionRetentionAge)
				})
			}

			logger.Info("Starting chatdesk", zap.Int("port", cfg.WebPort), zap.String("storage", cfg.StorageBackend))
			return group.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides WEB_PORT)")
	return cmd
}
