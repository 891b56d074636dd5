package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/unicitynetwork/sol-bridge-go/core/config"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"go.uber.org/zap"
)

var (
	configFile string
	envFile    string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Solana lock to Unicity mint bridge",
	Long: `bridge watches the bridge program on the origin chain for TokenLocked
events, builds and validates a proof for each lock, and mints the matching
token on Unicity. Minted tokens are written as JSON artifacts that can be
checked independently with the validate command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
		logging.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	rootCmd.AddCommand(keygenCmd, lockCmd, monitorCmd, validateCmd, stateCmd)
}
