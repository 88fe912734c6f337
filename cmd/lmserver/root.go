package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/lmserver/pkg/cli"
	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lmserver",
	Short: "lmserver - local Messages API listener for catalog chat models",
	Long: `lmserver exposes a local Anthropic Messages API endpoint backed by a catalog
of upstream chat models.

Requests authenticated with the printed nonce are matched to the closest
catalog model and forwarded. The upstream event stream is returned byte for
byte, so clients see exactly what the model produced.

Without --config the built-in defaults apply and LMSERVER_* environment
variables may override any setting.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// loadConfig initializes the process configuration from the --config flag.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return config.GetConfig(), nil
}

// setupLogging installs the configured logger as the slog default. Logs go
// to stderr so stdout stays usable for command output.
func setupLogging(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := cfg.Level
	if verbose && level != "trace" {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Redact:    !cfg.DisableRedaction,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}
