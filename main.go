// main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"my-teddy/config"
	"my-teddy/utils"
)

var (
	envFiles []string

	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "teddy",
	Short: "My Teddy storefront server",
	Long: `teddy runs the My Teddy storefront API and its supporting jobs.

Settings come from the environment, optionally seeded from .env files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFiles...)
		if err != nil {
			return err
		}
		logger, err = utils.NewLogger(cfg.Development(), cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the environment (default .env)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, fulfilCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
