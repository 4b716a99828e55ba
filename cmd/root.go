package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "firealert",
	Short: "Fire detection ingestion and site alert pipeline",
	Long:  "Fetches satellite fire detections from configured providers, stores unique events, matches them against monitored sites and emits alert notifications.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
