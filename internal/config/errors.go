// Package config provides configuration loading, parsing, and validation for tokengate.
package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates every problem found in a config file so the
// operator sees the full list in one pass instead of fixing fields one
// reload at a time.
type ValidationError struct {
	Errors []string
}

// Error renders the accumulated problems. A single problem stays on one
// line; several are listed as bullets.
func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "config validation failed"
	case 1:
		return fmt.Sprintf("config validation failed: %s", e.Errors[0])
	default:
		return fmt.Sprintf("config validation failed with %d errors:\n  - %s",
			len(e.Errors), strings.Join(e.Errors, "\n  - "))
	}
}

// Add records a problem.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf records a problem built from a format string.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any problem has been recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns e when at least one problem was recorded, nil otherwise.
// Returning a typed nil *ValidationError directly would compare non-nil as
// an error, so validation code must funnel through ToError.
func (e *ValidationError) ToError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// UnsupportedFormatError is returned when a config file extension does not
// map to a supported format.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported config format %q (supported: .yaml, .yml, .toml)", e.Extension)
}
