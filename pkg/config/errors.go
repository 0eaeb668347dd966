package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every configuration error.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTableNotFound is returned when no configuration file declares the requested table.
	ErrTableNotFound = errors.New("table configuration not found")

	// ErrNoConfigFiles is returned when the configuration directory holds no JSON files.
	ErrNoConfigFiles = errors.New("no JSON configuration files found")
)

// Error reports a missing or invalid configuration key, or a URL template
// placeholder without a substitution value.
type Error struct {
	Path   string
	Table  string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "configuration error"
	if e.Table != "" {
		msg += fmt.Sprintf(" (table %s)", e.Table)
	} else if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": %q", e.Field)
	}
	return msg + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *Error) Unwrap() error {
	return ErrInvalidConfig
}
