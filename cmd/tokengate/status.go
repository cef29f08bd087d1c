package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/tokengate/tokengate/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if the gateway is running",
	Long: `Check the health of a running tokengate server by querying its
/healthz endpoint.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	return checkStatusWithConfig(cmd, configPath)
}

// checkStatusWithConfig loads the config to learn the listen address and
// queries the health endpoint there.
func checkStatusWithConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	healthURL := fmt.Sprintf("http://%s/healthz", cfg.Server.Listen)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	//nolint:noctx // Simple health check doesn't need context propagation
	resp, err := client.Get(healthURL)
	if err != nil {
		cmd.Printf("✗ tokengate is not running (%s)\n", cfg.Server.Listen)
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		cmd.Printf("✗ tokengate returned unexpected status: %d\n", resp.StatusCode)
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	// The endpoint stays 200 when circuits are open; degraded shows in the body
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr == nil && gjson.GetBytes(body, "status").String() == "degraded" {
		cmd.Printf("✓ tokengate is running (%s), degraded: open circuits %s\n",
			cfg.Server.Listen, gjson.GetBytes(body, "circuits").Raw)
		return nil
	}

	cmd.Printf("✓ tokengate is running (%s)\n", cfg.Server.Listen)

	return nil
}
