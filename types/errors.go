package types

import (
	"context"
	"errors"
	"fmt"
)

// AssertionError is an expectation inside a test body that did not hold
type AssertionError struct {
	Message string
	Locator string
}

func (e *AssertionError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("assertion failed for %s: %s", e.Locator, e.Message)
	}
	return "assertion failed: " + e.Message
}

// TimeoutError means a wait or the per-test deadline elapsed
type TimeoutError struct {
	Op      string
	Locator string
	Err     error
}

func (e *TimeoutError) Error() string {
	msg := "timed out"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Locator != "" {
		msg += " waiting for " + e.Locator
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// InfrastructureError is a failure not attributable to the application under test
type InfrastructureError struct {
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure: %v", e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError wraps err unless it already is one.
func NewInfrastructureError(err error) error {
	if err == nil || IsInfrastructure(err) {
		return err
	}
	return &InfrastructureError{Err: err}
}

// IsInfrastructure checks if the error is or wraps an InfrastructureError
func IsInfrastructure(err error) bool {
	var infraErr *InfrastructureError
	return err != nil && errors.As(err, &infraErr)
}

// IsTimeout checks if the error is or wraps a TimeoutError or a context deadline
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return err != nil && (errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded))
}

// IsAssertion checks if the error is or wraps an AssertionError
func IsAssertion(err error) bool {
	var assertErr *AssertionError
	return err != nil && errors.As(err, &assertErr)
}

// Classify maps an attempt error onto the failure taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case IsInfrastructure(err):
		return FailureInfrastructure
	case IsTimeout(err):
		return FailureTimeout
	case IsAssertion(err):
		return FailureAssertion
	default:
		return FailureError
	}
}

// StatusFor maps a failure kind to the record status.
func StatusFor(kind FailureKind) TestStatus {
	switch kind {
	case "":
		return TestStatusPassed
	case FailureTimeout:
		return TestStatusTimedOut
	default:
		return TestStatusFailed
	}
}
