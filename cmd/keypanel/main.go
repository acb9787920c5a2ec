package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keypanel/internal/config"
	"github.com/ericfisherdev/keypanel/internal/logging"
)

type rootFlags struct {
	ConfigPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rf rootFlags

	rootCmd := &cobra.Command{
		Use:           "keypanel",
		Short:         "Upstream API key pool with health tests and auto-reactivation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), rf.ConfigPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&rf.ConfigPath, "config", "", "Path to a YAML config file (defaults to ./keypanel.yaml when present)")

	rootCmd.AddCommand(serveCmd(&rf))
	rootCmd.AddCommand(importCmd(&rf))
	rootCmd.AddCommand(scheduleCmd(&rf))

	return rootCmd
}

func serveCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the reactivation scheduler (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), rf.ConfigPath)
		},
	}
}

// loadConfig loads configuration and installs the configured logger.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
