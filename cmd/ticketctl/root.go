package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"ticketeer/internal/app"
	"ticketeer/internal/platform/config"
	"ticketeer/internal/platform/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticketctl",
		Short:         "Operate a ticketeer deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newExpireCmd(),
		newQuoteCmd(),
		newCertificatesCmd(),
		newTokenCmd(),
		newAdminTokenCmd(),
	)
	return root
}

// loadConfig reads .env and the environment. Validation errors are fatal only
// for commands that talk to the backends.
func loadConfig(strict bool) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil && strict {
		return cfg, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, cfg)
}

// withApp builds the application against the configured database and runs fn.
func withApp(ctx context.Context, cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	a, err := app.New(ctx, cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
