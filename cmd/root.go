package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/wadispatch/cmd/worker"
	"github.com/jmehdipour/wadispatch/internal/config"
	"github.com/jmehdipour/wadispatch/internal/logger"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "wadispatch",
		Short: "WhatsApp/SMS delivery pipeline CLI",
	}
)

func Execute() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(cleanupLogsCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// loadConfig reads the config and starts the logger at its level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	return cfg, nil
}
