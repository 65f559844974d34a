package chat

import "errors"

var (
	// ErrEmptyMessage is returned when the message body is blank.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrOffline is returned when the transport is not authenticated and no
	// REST fallback is configured.
	ErrOffline = errors.New("not connected and no fallback configured")
	// ErrScopeChanged is returned when the active conversation changed while
	// a reload was in flight; the result was discarded.
	ErrScopeChanged = errors.New("conversation changed during load")
)
