package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting the gateway.
Checks YAML syntax, required fields, and strategy configurations.`,
	RunE: runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	// Determine config path
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	// Load catches syntax errors, Validate the semantic ones
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	fmt.Printf("✓ %s is valid (%d strategies, upstream %s)\n",
		configPath, len(cfg.Auth.Strategies), cfg.Upstream.URL)

	return nil
}
