package main

import (
	"fmt"
	"os"

	"gopac/internal"
	"gopac/internal/config"
	"gopac/internal/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "gopac",
		Short:         "Primorial Anchor Conjecture engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML run file (gopac.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE (default from LOG_LEVEL)")

	rootCmd.AddCommand(
		newRunCmd(g),
		newCFRCmd(g),
		newReportCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gopac: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

// load reads the configuration and builds the logger it names.
func (g *globalFlags) load() (*config.Config, *internal.Logger, error) {
	path := g.configPath
	if path == "" {
		if _, err := os.Stat("gopac.yaml"); err == nil {
			path = "gopac.yaml"
		}
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	level, ok := internal.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, nil, errors.ConfigInvalid(fmt.Sprintf("unknown log level %q", cfg.LogLevel))
	}
	return cfg, internal.NewLogger(level), nil
}
