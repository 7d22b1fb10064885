package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/research-assistant/config"
	"github.com/dshills/research-assistant/internal/app"
	"github.com/dshills/research-assistant/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Multi-analyst research assistant",
	Long: "research generates analyst personas for a topic, lets you review them,\n" +
		"interviews an expert per analyst and compiles the findings into a report.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "path to config YAML file")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&rootFlags.logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

// loadConfig reads the config and applies the logging flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		cfg.Log.Format = rootFlags.logFormat
	}
	return cfg, nil
}

// buildApp loads the configuration, initializes logging and wires the app.
func buildApp(mutate func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Log.Format)

	return app.New(cfg, app.Overrides{})
}
