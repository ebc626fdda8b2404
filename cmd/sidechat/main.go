package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/sidechat/internal/config"
	"github.com/comigor/sidechat/internal/logger"
)

var (
	// Global flags
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sidechat",
	Short: "sidechat - a small websocket chat with a streaming assistant",
	Long: `sidechat is a chat relay and a terminal client for it.

The relay re-broadcasts every message to all other connected clients. The
assistant variant answers each client itself, streaming the model's reply.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			logger.L.Error("failed to load configuration", "error", err)
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(relayCmd, assistantCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
