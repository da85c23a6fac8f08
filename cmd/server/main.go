package main

import (
	"os"

	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "postflow",
		Short:        "Social post scheduling API and publishing orchestrator",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

// loadConfig reads .env, the config file and the environment, then starts the logger.
func loadConfig() (*config.Config, error) {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogLevel, cfg.Development); err != nil {
		return nil, err
	}
	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("failed to load .env file", zap.Error(envErr))
	}
	return cfg, nil
}
