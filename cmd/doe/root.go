package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mayflydoe/internal/config"
)

var (
	configPath string
	appConfig  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "doe",
	Short: "Optimal experimental design generation",
	Long: `doe generates D-, A-, G-, E- and K-optimal experimental designs over
constrained design spaces, from the command line or as an HTTP job service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg
		slog.SetDefault(newLogger(cfg.Log))
		return nil
	},
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./doe.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Base directory for design records")
}
