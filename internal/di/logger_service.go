package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/proxy"
)

// LoggerService exposes the process-wide zerolog logger. Built once from
// the startup config; logging settings do not hot-reload.
type LoggerService struct {
	Logger *zerolog.Logger
}

// NewLogger constructs the logger from the logging section of the config.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := proxy.NewLogger(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &LoggerService{Logger: &logger}, nil
}
