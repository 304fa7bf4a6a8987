package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/knowledgehub/internal/app"
	"github.com/markdave123-py/knowledgehub/internal/config"
	db "github.com/markdave123-py/knowledgehub/internal/core/database"
)

var rootCmd = &cobra.Command{
	Use:           "knowledgehub",
	Short:         "Document ingestion and retrieval-augmented chat service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		withWorker, _ := cmd.Flags().GetBool("worker")
		return run(cmd.Context(), func(ctx context.Context, a *app.App) error {
			srv := app.NewServer(a.Config, a.Logger, a.Files, a.Chat, a.HealthChecks())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if withWorker {
				g.Go(func() error { return a.RunWorker(gctx) })
			}
			return g.Wait()
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the ingestion worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if a.Config.QueueDriver == "memory" {
				return errors.New("the memory queue only works with serve --worker")
			}
			return a.RunWorker(ctx)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		return db.Migrate(cfg.DatabaseURL, config.SetupLogger(cfg))
	},
}

func init() {
	serveCmd.Flags().Bool("worker", true, "also drain the ingestion queue in this process")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}

// run loads config, builds the app and calls fn until SIGINT/SIGTERM.
func run(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.Close()

	err = fn(ctx, a)
	logger.Info("shut down", slog.Any("error", err))
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("knowledgehub exited", slog.Any("error", err))
		os.Exit(1)
	}
}
