package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/chat-gateway/config"
	"github.com/becomeliminal/chat-gateway/logging"
)

var (
	configPath string
	logLevel   string
	sessionID  string
)

var rootCmd = &cobra.Command{
	Use:           "chatgw",
	Short:         "Multimodal chat gateway",
	Long:          "Chat with local or hosted models, with per-session memory and answers grounded in uploaded documents.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "Session ID")
}

// loadConfig reads the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.SetDefault(logging.New(cfg.LogLevel, os.Stderr))
	return cfg, nil
}

// setup loads the configuration and builds the application.
func setup(ctx context.Context) (context.Context, *app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.With(ctx, logging.Default())

	a, err := build(ctx, cfg)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, a, nil
}
