package relay

import "errors"

var (
	// ErrCapacityExceeded is returned when a bounded registry cannot admit another
	// connection, or when a descriptor cannot be represented in the select bitset.
	ErrCapacityExceeded = errors.New("relay: capacity exceeded")
	// ErrWaitFailed wraps a non retryable readiness wait failure.
	ErrWaitFailed = errors.New("relay: readiness wait failed")
	// ErrListenerFailed wraps an accept failure that invalidates the listener.
	ErrListenerFailed = errors.New("relay: listener failed")
	// ErrServerClosed is returned by Serve after the server has already stopped.
	ErrServerClosed = errors.New("relay: server closed")
	ErrNotListening = errors.New("relay: server is not listening")
	// ErrAlreadyListening is returned by a second Listen on the same Server.
	ErrAlreadyListening = errors.New("relay: server is already listening")

	errDuplicateFd  = errors.New("relay: descriptor already registered")
	errFlushTimeout = errors.New("relay: flush timed out")
)
