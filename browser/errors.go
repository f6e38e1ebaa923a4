package browser

import "errors"

var (
	// ErrSessionUnavailable means the remote engine could not provide a session.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrSessionReleased is returned by operations on a released session.
	ErrSessionReleased = errors.New("session released")
)
