package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// defaultConfigTemplate is the starter config written by "config init".
// It validates as-is and walks through the sections an operator will
// usually touch first.
const defaultConfigTemplate = `# tokengate configuration

server:
  listen: "127.0.0.1:8080"
  # Upstream requests slower than this are cancelled.
  timeout_ms: 30000
  max_concurrent: 256

upstream:
  # The protected service every authorized request is forwarded to.
  url: "http://127.0.0.1:9000"
  health_path: "/healthz"

logging:
  level: info
  format: console

auth:
  # Verified credentials are reused for this long before re-verifying.
  cache_ttl_ms: 60000
  strategies:
    # Replace the static token with a jwt or introspect strategy for
    # production use.
    - type: static
      tokens:
        - token: "change-me"
          subject: "local-dev"
    # - type: jwt
    #   jwks_url: "https://issuer.example.com/.well-known/jwks.json"
    #   issuer: "https://issuer.example.com"
    #   audience: "tokengate"
    # - type: introspect
    #   endpoint: "https://issuer.example.com/oauth2/introspect"
    #   client_id: "tokengate"
    #   client_secret: "${INTROSPECT_CLIENT_SECRET}"

throttle:
  # Failed-auth budget per client address.
  failures_per_minute: 60
  burst: 20

cache:
  # disabled, local (in-process), or distributed (olric cluster)
  mode: local

health:
  health_check:
    enabled: true
    interval_ms: 30000
  circuit_breaker:
    failure_threshold: 5
    open_duration_ms: 30000
    half_open_probes: 2
`

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default tokengate configuration file at ~/.config/tokengate/config.yaml`,
	RunE:  runConfigInit,
}

// init registers the config "init" subcommand and its CLI flags.
// It adds the command to configCmd and defines the "output" (-o) flag for the target
// config file path (default: ~/.config/tokengate/config.yaml) and the "force" flag
// to allow overwriting an existing config file.
func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/tokengate/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

// runConfigInit creates a default configuration file at the provided output
// path or, if none is provided, at ~/.config/tokengate/config.yaml.
// It creates parent directories as needed (permissions 0750), writes the config
// file with permissions 0600, and prints post-creation next steps to stdout.
// It returns an error if flag retrieval fails, if the target file already exists
// and --force is not set, or if any filesystem operation fails.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", "tokengate", "config.yaml")
	}

	// Check if file exists
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	// Create directory if needed
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ Config file created at %s\n", output)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point upstream.url at the service to protect")
	fmt.Println("  2. Replace the static token with a jwt or introspect strategy")
	fmt.Println("  3. Validate with: tokengate config validate")
	fmt.Println("  4. Start the gateway: tokengate serve")

	return nil
}
