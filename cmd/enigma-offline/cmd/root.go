// Package cmd implements the enigma-offline command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"

	"github.com/meigma/offline/internal/config"
)

var (
	verbose    bool
	workdir    string
	configFile string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:          "enigma-offline",
	Short:        "Offline caching front for the ENIGMA web app",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workdir != "" {
			if err := os.Chdir(workdir); err != nil {
				return fmt.Errorf("change working directory: %w", err)
			}
		}
		if err := config.LoadEnvFiles(envFiles...); err != nil {
			return err
		}
		logger, err := newLogger(verbose, os.Getenv("ENIGMA_LOG_LEVEL"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringVarP(&configFile, "config-file", "f", os.Getenv("ENIGMA_CONFIG_FILE"), "YAML config file")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")
}

func newLogger(verbose bool, level string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	if os.Getenv("PRETTY_LOGS") != "false" {
		return slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{Level: logLevel})), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})), nil
}

// loadConfig loads the configuration named by --config-file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
