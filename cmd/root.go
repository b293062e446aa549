package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/config"
)

// cfg is loaded once per invocation before any subcommand runs.
var cfg *config.Config

// logLevel overrides log.level from the config file and environment.
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "deeptrace",
	Short: "Autonomous web research agent",
	Long: `deeptrace turns a question into a sourced research report.

It plans a set of web searches, runs them in parallel across the configured
search providers, and has a language model synthesize the findings into a
report with a confidence score. Reports, their sources and run logs are kept
in a local or Postgres store and can be exported to files, Notion or email.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// setupRuntime loads configuration and installs the global logger.
func setupRuntime(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "deeptrace: load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "deeptrace: init logger")
	}
	cfg = c

	zap.L().Debug("runtime ready",
		zap.String("command", cmd.CommandPath()),
		zap.String("store", cfg.Store.Driver),
		zap.String("default_mode", cfg.Research.DefaultMode),
	)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
