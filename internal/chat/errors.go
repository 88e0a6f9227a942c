package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an action needs a live transport
	// connection and there is none. Never retried automatically.
	ErrNotConnected = errors.New("chat: not connected to server")

	// ErrNoRoom is returned when an action needs an active room.
	ErrNoRoom = errors.New("chat: no active room")
)

// ValidationError rejects user input before anything is sent. It is
// blocked silently at the UI layer rather than alerted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}
