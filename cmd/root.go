// Package cmd defines and implements the CLI commands for the sift
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/config"
	"github.com/scrapeworks/sift/internal/logging"
)

var (
	cfgFile string
	logDev  bool
)

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the loaded configuration and root logger that every
// subcommand needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sift",
		Short: "A checkpointed scraping engine for structured data extraction.",
		Long: `sift runs declarative scrape jobs: it walks listing pages or pagination
chains, extracts structured records with CSS/XPath field specs, streams them
to JSONL, and checkpoints every page so interrupted runs resume where they
left off.`,
		SilenceUsage: true,

		// Runs after flag parsing but before the subcommand: load config,
		// build the logger, and stash both in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cmd.Flags().Changed("log-dev") {
				cfg.Logging.Development = logDev
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, &app{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus SIFT_ env vars)")
	cmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "force development (console) logging regardless of config")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
