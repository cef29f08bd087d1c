package cache

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	// loggerMu guards Logger; tests swap it concurrently.
	loggerMu sync.RWMutex

	// Logger is the package logger for backend lifecycle and operation
	// logging. It stays a no-op until SetLogger installs a real one, so
	// cache construction before logging is configured emits nothing.
	Logger = zerolog.Nop()
)

// SetLogger installs the package logger. The DI layer calls this before
// building the cache backend so initialization logs land in the
// configured sink. Entries are tagged component=cache.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "cache").Logger()
}

// logger snapshots the current package logger for backend use.
func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
