package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/choices-civics/repsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "repsync",
	Short: "Elected-official ingestion and canonicalization engine",
	Long:  "Fetches elected officials from congress.gov, OpenStates, the FEC, and Google Civic Info, resolves them into canonical entities, and reconciles fields by provider precedence.",
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
