package term

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded means the live-session cap was hit. Surfaced to
	// the user; actionable by closing an existing terminal.
	ErrCapacityExceeded = errors.New("terminal session limit reached")

	// ErrDuplicateSession means a live process already exists for the id.
	// Should not occur given unique id generation.
	ErrDuplicateSession = errors.New("session id already in use")

	// ErrTransportClosed means the manager connection is gone.
	ErrTransportClosed = errors.New("transport closed")
)

// CreateError wraps a spawn failure reported by the manager.
type CreateError struct {
	SessionID string
	Reason    string
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create session %s: %s", e.SessionID, e.Reason)
}
