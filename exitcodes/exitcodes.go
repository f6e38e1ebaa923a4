// Package exitcodes defines the standard exit codes used by op-webcheck.
package exitcodes

// Exit code constants used by op-webcheck
//
// * Success (0): every test passed or was skipped
// * TestFailure (1): one or more tests failed or timed out
// * RuntimeErr (2): the run could not complete, e.g. the browser went away
// * ConfigErr (3): invalid configuration, detected before any test ran
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
	ConfigErr   = 3
)
