// Command stencil renders text templates from the command line.
//
// Configuration is read from an optional YAML file (--config), then from
// STENCIL_* environment variables. A .env file in the working directory is
// loaded into the environment first, so it can carry those variables:
//
//	stencil render --data vars.yaml --root templates mail.txt
//	stencil render --mode eager-deferred --defer user page.txt > page.partial
//	stencil tokens page.txt
//	stencil check templates/*.txt
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/benjaminschreck/textstencil/pkg/stencil"
)

const version = "0.2.0"

var (
	configFile string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "stencil",
	Short:         "Render, inspect and check text templates",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading STENCIL_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error or off")

	rootCmd.AddCommand(renderCmd, tokensCmd, checkCmd)
}

// setupConfig builds the global configuration: dotenv file, then config
// file, then environment, then flags.
func setupConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var (
		cfg *stencil.Config
		err error
	)
	if configFile != "" {
		if cfg, err = stencil.LoadConfigFile(configFile); err != nil {
			return err
		}
	} else {
		cfg = stencil.ConfigFromEnvironment()
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	stencil.SetGlobalConfig(cfg)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
