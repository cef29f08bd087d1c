// Package main is the entry point for tokengate.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tokengate",
	Short: "Credential-verifying gateway for upstream HTTP services",
	Long: `tokengate is an authenticating reverse proxy that sits in front of an
upstream HTTP service, verifies the bearer credential on every request
(JWT, static token, or remote introspection), and forwards only the
traffic that passes.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/tokengate/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
