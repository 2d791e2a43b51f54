package main

import (
	"log/slog"

	"github.com/Lllllllleong/documentanalysisflow/internal/config"
	"github.com/Lllllllleong/documentanalysisflow/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfg        *config.Config
	logger     *slog.Logger
	closeLog   func() error
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Document upload, processing and AI analysis service",
	Long: `docflow accepts PDF, text and markdown uploads, extracts their text through
a staged pipeline with live progress, and runs rate limited, cached AI
analyses against the result.

Configuration is read from the environment (PROJECT_ID, AI_PROVIDER,
STORE_BACKEND, ...) and, when --config or DOCFLOW_CONFIG is set, a config file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper()
		if err != nil {
			return err
		}
		if configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		}
		cfg, err = config.LoadWithViper(v)
		if err != nil {
			return err
		}
		logger, closeLog = logging.Setup(cfg.LogFile, cfg.LogLevel)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, json or toml)")
	rootCmd.AddCommand(serveCmd, processCmd)
}
