package daemon

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/termdeck/termdeck/internal/term"
)

// Commands sent from client to daemon on the control stream. Requests that
// expect a response carry a correlation ID; resize, close and close_all are
// fire-and-forget and carry none.
const (
	CmdPing      = "ping"
	CmdCreate    = "create"
	CmdResize    = "resize"
	CmdClose     = "close"
	CmdCloseAll  = "close_all"
	CmdList      = "list"
	CmdSaveState = "save_state"
	CmdLoadState = "load_state"
)

// Events sent from daemon to client.
const (
	EvtPong    = "pong"
	EvtCreated = "created"
	EvtError   = "error"
	EvtList    = "list"
	EvtSaved   = "saved"
	EvtState   = "state"
	EvtExited  = "exited" // one-way, no correlation ID
)

// Error codes attached to EvtError responses so the client can map them
// back to the shared taxonomy.
const (
	CodeCapacityExceeded = "capacity_exceeded"
	CodeDuplicateSession = "duplicate_session"
	CodeCreateFailed     = "create_failed"
)

// Request is a JSON control message from client to daemon.
type Request struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`

	SessionID string              `json:"session_id,omitempty"`
	Options   *term.CreateOptions `json:"options,omitempty"`

	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	Workspace   string            `json:"workspace,omitempty"`
	State       *term.SavedState  `json:"state,omitempty"`
	Scrollbacks map[string]string `json:"scrollbacks,omitempty"`
}

// Response is a JSON control message from daemon to client: either a reply
// correlated by ID, or an exit notification with no ID.
type Response struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event"`

	SessionID string `json:"session_id,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Shell     string `json:"shell,omitempty"` // resolved shell path on created
	ExitCode  int    `json:"exit_code,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`

	Sessions    []string          `json:"sessions,omitempty"`
	State       *term.SavedState  `json:"state,omitempty"`
	Scrollbacks map[string]string `json:"scrollbacks,omitempty"`
}

// Control stream wire format: [4 bytes big-endian length][JSON payload].
// Raw terminal I/O never travels here; each session gets its own yamux
// stream, which preserves per-session ordering without sequence numbers.

const maxFrameSize = 16 * 1024 * 1024 // state payloads carry scrollbacks

// WriteMessage writes one length-prefixed JSON frame.
func WriteMessage(w io.Writer, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON frame into dst.
func ReadMessage(r io.Reader, dst any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	if length == 0 {
		return fmt.Errorf("empty frame")
	}
	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}

// Data stream wire format: a [1 byte id length][session id] header written
// by the client when it opens the stream, then raw bytes both ways.

// WriteStreamHeader tags a freshly opened data stream with its session id.
func WriteStreamHeader(w io.Writer, sessionID string) error {
	id := []byte(sessionID)
	if len(id) > 255 {
		return fmt.Errorf("session id too long: %d bytes", len(id))
	}
	header := make([]byte, 1+len(id))
	header[0] = byte(len(id))
	copy(header[1:], id)
	_, err := w.Write(header)
	return err
}

// ReadStreamHeader reads the session id tag from a data stream.
func ReadStreamHeader(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	if lenBuf[0] == 0 {
		return "", fmt.Errorf("empty session id")
	}
	id := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, id); err != nil {
		return "", err
	}
	return string(id), nil
}
