package domain

import "errors"

// Error taxonomy returned by the session core. Lifecycle and mutation
// errors surface synchronously; event delivery errors never do.
var (
	ErrNotFound          = errors.New("session not found")
	ErrAlreadyExists     = errors.New("session already exists")
	ErrAlreadyConnecting = errors.New("session connect already in flight")
	ErrNotConnected      = errors.New("session not connected")
	ErrInvalidState      = errors.New("operation invalid in current session state")
	ErrTimeout           = errors.New("protocol operation timed out")
	ErrUpstreamRejected  = errors.New("rejected by protocol network")
)
