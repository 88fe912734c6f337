package cli

import (
	"errors"
	"fmt"

	"mercator-hq/lmserver/pkg/config"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps err to the process exit code. Configuration problems exit
// with ExitConfig so wrappers can tell them apart from runtime failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ExitConfig
	}
	var ve config.ValidationError
	if errors.As(err, &ve) {
		return ExitConfig
	}
	return ExitError
}
