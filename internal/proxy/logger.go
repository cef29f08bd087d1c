package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tokengate/tokengate/internal/config"
)

type ctxKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey ctxKey = "request_id"

// NewLogger builds the gateway's zerolog.Logger from the logging config:
// destination (stdout, stderr, or a file), level, and whether to render
// pretty console output instead of JSON lines.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	output, file, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}

	if prettyEnabled(cfg, file) {
		output = consoleWriter(output)
	}

	logger := zerolog.New(output).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger()
	return logger, nil
}

// openOutput resolves the configured destination. The *os.File result is
// needed for terminal detection; it is nil only for non-file writers.
func openOutput(dest string) (io.Writer, *os.File, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	}

	path := filepath.Clean(dest)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// prettyEnabled decides between JSON lines and the console renderer.
// The explicit Pretty flag wins; otherwise "pretty" forces it on, "json"
// forces it off, and "console" or an unset format auto-detects a
// terminal.
func prettyEnabled(cfg config.LoggingConfig, f *os.File) bool {
	if cfg.Pretty {
		return true
	}

	switch cfg.Format {
	case "pretty":
		return true
	case "json":
		return false
	}
	return f != nil && isatty.IsTerminal(f.Fd())
}

// consoleWriter renders human-oriented log lines for development runs.
func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:              out,
		TimeFormat:       "15:04:05",
		FormatLevel:      levelBadge,
		FormatMessage:    arrowMessage,
		FormatFieldName:  dimFieldName,
		FormatFieldValue: plainFieldValue,
	}
}

// levelBadge renders the level as a colored three-letter badge.
func levelBadge(i any) string {
	level, _ := i.(string)
	switch level {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	case "fatal":
		return "\033[35mFTL\033[0m"
	case "panic":
		return "\033[35mPNC\033[0m"
	}
	return level
}

func arrowMessage(i any) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("-> %s", i)
}

func dimFieldName(i any) string {
	return fmt.Sprintf("\033[2m%s=\033[0m", i)
}

func plainFieldValue(i any) string {
	return fmt.Sprintf("%s", i)
}

// AddRequestID stamps a request ID onto the context and its zerolog
// logger, so every log line for the request carries it. An empty id
// gets a fresh UUID.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	logger := log.Ctx(ctx).With().Str("request_id", requestID).Logger()
	return logger.WithContext(ctx)
}

// GetRequestID returns the request ID stored by AddRequestID, or empty.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
