package webcheck

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-webcheck/exitcodes"
)

// Each error type reports its process exit code, so the CLI can treat them as
// urfave/cli exit coders however deeply they are wrapped.

// RuntimeError is an environment failure: the browser could not be reached,
// a run was aborted by an infrastructure failure, or artifacts could not be
// written.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func (e *RuntimeError) ExitCode() int { return exitcodes.RuntimeErr }

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}

// TestFailureError is a completed run with failed or timed out tests.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

func (e *TestFailureError) ExitCode() int { return exitcodes.TestFailure }

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var target *TestFailureError
	return errors.As(err, &target)
}

// ConfigurationError is an invalid config file, flag or test definition
// detected before any session was acquired.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) ExitCode() int { return exitcodes.ConfigErr }

func NewConfigurationError(err error) *ConfigurationError {
	return &ConfigurationError{Err: err}
}

// IsConfigurationError checks if the error is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
