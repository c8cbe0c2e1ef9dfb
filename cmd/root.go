package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/kvrouter/router"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Router YAML config; defaults apply when empty
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "kvrouter",
	Short: "KV-cache-aware request router for inference workers",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// loadRouterConfig reads the router config at path, or returns the defaults
// when path is empty.
func loadRouterConfig(path string) (router.Config, error) {
	if path == "" {
		return router.DefaultConfig(), nil
	}
	cfg, err := router.LoadConfig(path)
	if err != nil {
		return router.Config{}, err
	}
	logrus.Infof("Loaded router config from %s", path)
	return *cfg, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to router YAML config")
}
