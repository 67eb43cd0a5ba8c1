// Package cmd implements the CLI commands for codecadapterd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmylchreest/tvarr/internal/codecadapter"
	"github.com/jmylchreest/tvarr/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// daemonViper is a separate viper instance for codecadapterd configuration,
// kept apart from any other configuration a host process might carry.
var daemonViper = viper.New()

var rootCmd = &cobra.Command{
	Use:     "codecadapterd",
	Short:   "Runs a codec adapter component against an MPEG-TS stream",
	Version: version.Short(),
	Long: `codecadapterd drives one codec component through the codecadapter
lifecycle, reading an MPEG-TS elementary stream and writing decoded
output to stdout.

Configuration is primarily via environment variables:
  CODECADAPTER_LOGGING_LEVEL   - log level (trace, debug, info, warn, error)
  CODECADAPTER_LOGGING_FORMAT  - log format (text, json)
  CODECADAPTER_FFMPEG_BINARY_PATH - ffmpeg binary path (auto-detected if unset)

Example:
  codecadapterd run --input stream.ts --track video`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
	rootCmd.PersistentFlags().String("config", "", "path to a config file")
}

func initConfig() {
	daemonViper.SetEnvPrefix("CODECADAPTER")
	daemonViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	daemonViper.AutomaticEnv()

	daemonViper.SetDefault("logging.level", "info")
	daemonViper.SetDefault("logging.format", "json")
}

// initLogging configures the package-wide default slog logger for the
// daemon, honoring CLI flags over environment/config values.
func initLogging() error {
	level := daemonViper.GetString("logging.level")
	format := daemonViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	if level == "warning" {
		level = "warn"
	}

	logger := codecadapter.NewLoggerWithWriter(codecadapter.LogConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}, os.Stderr)
	slog.SetDefault(logger)

	return nil
}

// GetDaemonViper returns the daemon-specific viper instance, for subcommands
// that need direct access to configuration beyond what LoadConfig exposes.
func GetDaemonViper() *viper.Viper {
	return daemonViper
}
