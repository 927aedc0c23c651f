package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletwatch/subletwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "subletwatch",
	Short: "Short-term-let detection for managed properties",
	Long:  "Scans Airbnb, SpareRoom and Gumtree for listings at client-managed UK addresses, records match evidence per property, and tracks reviewer decisions.",
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
