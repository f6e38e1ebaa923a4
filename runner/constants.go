package runner

import "time"

const (
	// DefaultTestTimeout bounds one attempt of one test.
	DefaultTestTimeout = 60 * time.Second

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32

	// diagnosticTimeout bounds the screenshot and URL reads taken after a failure.
	diagnosticTimeout = 5 * time.Second
)
