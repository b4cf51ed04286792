// Package cmd implements the CLI commands for acerestreamer.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/observability"
	"github.com/kism/acerestreamer/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "acerestreamer",
	Short:   "HLS gateway for an AceStream engine",
	Version: version.Short(),
	Long: `acerestreamer fronts a local AceStream engine with a small HTTP
gateway: it scrapes stream listings into a catalog, keeps a bounded pool
of engine sessions warm, rewrites HLS playlists to its own origin, and
serves the catalog as IPTV and Xtream-Codes endpoints.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// The flags are not bound to viper; loadConfig applies them on top of
	// the loaded configuration only when explicitly set, preserving the
	// priority CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./instance/config.json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig reads the configuration, overlays any explicitly set CLI
// flags and installs the process-wide logger.
func loadConfig(flags *pflag.FlagSet) (*config.AppConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	applyLoggingFlags(cfg, flags)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	return cfg, nil
}

// applyLoggingFlags overlays --log-level and --log-format onto the loaded
// configuration when the user set them.
func applyLoggingFlags(cfg *config.AppConfig, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = normaliseLevel(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
}

func normaliseLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	return level
}
