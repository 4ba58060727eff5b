package term

import "time"

// Status of a terminal session as tracked by the service.
type Status string

const (
	StatusActive Status = "active"
	StatusExited Status = "exited"
)

// Descriptor is the canonical client-side record for one logical terminal.
// It outlives the backing process: exit flips Status to exited but only an
// explicit close removes the descriptor.
type Descriptor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	ExitCode  *int      `json:"exit_code,omitempty"` // set only after exit
}

// CreateOptions are the spawn parameters for a new session. Zero values fall
// back to platform defaults (shell from $SHELL, 80x24 dimensions, cwd from
// the spawning process).
type CreateOptions struct {
	Shell string `json:"shell,omitempty"`
	Cwd   string `json:"cwd,omitempty"`
	Cols  int    `json:"cols,omitempty"`
	Rows  int    `json:"rows,omitempty"`
}

// SavedSession is the lightweight on-disk record for one saved terminal.
type SavedSession struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Shell string `json:"shell"`
	Cwd   string `json:"cwd"`
}

// SavedState is the persisted terminal state for one workspace, written as
// terminals/sessions.json next to one <id>.scrollback file per session.
type SavedState struct {
	Sessions []SavedSession `json:"sessions"`
	SavedAt  time.Time      `json:"saved_at"`
}

// DataEvent is one raw output chunk from a session, in OS pipe order.
type DataEvent struct {
	SessionID string
	Chunk     []byte
}

// ExitEvent is delivered exactly once per created session.
type ExitEvent struct {
	SessionID string
	ExitCode  int
}

// WriteResult reports whether a fire-and-forget call was forwarded or
// silently dropped. The dropped case is deliberate: unknown or already
// exited sessions are inherently racy and not actionable by the caller.
type WriteResult int

const (
	WriteOK WriteResult = iota
	WriteIgnored
)

// Transport is the session service's view of the manager boundary.
// CreateSession, SaveState and LoadState are request/response; Write,
// Resize, Close and CloseAll are fire-and-forget. Data and Exits stream
// one-way events from the manager; per-session ordering on Data matches
// the order the OS pipe emitted the chunks.
type Transport interface {
	// CreateSession reports the spawned process id and the shell path the
	// manager actually resolved, which may differ from opts.Shell when the
	// caller relied on defaults.
	CreateSession(id string, opts CreateOptions) (pid int, shell string, err error)
	Write(id string, data []byte)
	Resize(id string, cols, rows int)
	Close(id string)
	CloseAll()

	SaveState(workspace string, state SavedState, scrollbacks map[string]string) error
	LoadState(workspace string) (*SavedState, map[string]string, error)

	Data() <-chan DataEvent
	Exits() <-chan ExitEvent
}
