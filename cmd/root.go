// Package cmd implements the toolgate CLI.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/toolgate/internal/config"
)

var configFlag string

// Execute runs the root command.
func Execute() {
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "HITL gateway between OpenAI-compatible clients and local models",
		Long: "toolgate sits between an OpenAI-compatible client and a local model backend,\n" +
			"recovers tool calls the model emits as plain text, and gates their execution\n" +
			"behind human approval.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default: toolgate.yaml, then $TOOLGATE_CONFIG)")

	root.AddCommand(serveCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(approvalsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: the --config flag, then
// $TOOLGATE_CONFIG, then toolgate.yaml in the working directory.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if v := os.Getenv("TOOLGATE_CONFIG"); v != "" {
		return v
	}
	return "toolgate.yaml"
}

// loadConfig loads the resolved config file, falling back to defaults when
// the file does not exist.
func loadConfig() *config.Config {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && configFlag == "" {
			slog.Info("no config file found, using defaults", "path", path)
			return config.Default()
		}
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging configures slog from the config's logging level.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
