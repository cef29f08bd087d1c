package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/di"
	"github.com/tokengate/tokengate/internal/proxy"
	"github.com/tokengate/tokengate/internal/ro"
)

// shutdownTimeout bounds the drain of in-flight requests and services.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tokengate gateway",
	Long: `Start the gateway server that verifies bearer credentials on incoming
requests and forwards authorized traffic to the configured upstream.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	// Determine config path
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	container, err := di.NewContainer(configPath)
	if err != nil {
		// Use fallback logger; the configured one never came up
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize gateway")
		return err
	}

	loggerSvc, err := di.Invoke[*di.LoggerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize logger")
		return err
	}

	log.Logger = *loggerSvc.Logger
	zerolog.DefaultContextLogger = loggerSvc.Logger

	cfgSvc := di.MustInvoke[*di.ConfigService](container)

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to assemble server")
		return err
	}

	// Background probing of the upstream and JWKS endpoints
	checkerSvc := di.MustInvoke[*di.CheckerService](container)
	checkerSvc.Start()

	// Config hot-reload; canceled before the drain so reload callbacks
	// never fire against services that are shutting down
	watchCtx, watchCancel := context.WithCancel(context.Background())
	cfgSvc.StartWatching(watchCtx)

	return runWithGracefulShutdown(serverSvc.Server, container, cfgSvc.Get().Server.Listen, watchCancel)
}

// runWithGracefulShutdown serves until a shutdown signal arrives, then stops
// the config watcher and drains every container service.
func runWithGracefulShutdown(server *proxy.Server, container *di.Container, addr string, watchCancel context.CancelFunc) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	log.Info().Str("listen", addr).Msg("tokengate listening")

	sigCtx, sigCancel := context.WithCancel(context.Background())
	defer sigCancel()

	sigCh := make(chan os.Signal, 1)
	go func() {
		if sig, err := ro.WaitForShutdown(sigCtx); err == nil {
			sigCh <- sig
		}
	}()

	select {
	case err := <-serverErr:
		// Listen failed before any signal arrived
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if watchCancel != nil {
		watchCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// ServerService.Shutdown drains in-flight requests as part of this
	if err := container.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		return err
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		return err
	}

	log.Info().Msg("server stopped")

	return nil
}

// findConfigFile searches for config.yaml in the working directory, then
// under ~/.config/tokengate/.
func findConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(".", home)
}

// findConfigIn reports the config path inside dir when one exists, or the
// bare default name when it does not.
func findConfigIn(dir string) string {
	return findConfigInWithHome(dir, "")
}

// findConfigInWithHome checks dir first, then home/.config/tokengate.
// Returns the bare default name when neither location has a config file,
// so the subsequent load reports a useful error.
func findConfigInWithHome(dir, home string) string {
	p := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if home != "" {
		hp := filepath.Join(home, ".config", "tokengate", defaultConfigFile)
		if _, err := os.Stat(hp); err == nil {
			return hp
		}
	}

	return defaultConfigFile
}
