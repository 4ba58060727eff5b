package manager

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/term"
)

// Sink receives session output and exit notifications. Data is called from
// one goroutine per session, in the order the OS pipe emitted the chunks;
// calls for different sessions may interleave. Exit is called exactly once
// per created session, after the process handle has been removed.
type Sink interface {
	Data(id string, chunk []byte)
	Exit(id string, exitCode int)
}

// Config bounds the manager. Zero values fall back to 12 sessions and
// 80x24 dimensions.
type Config struct {
	MaxSessions int
	DefaultCols int
	DefaultRows int
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 12
	}
	if c.DefaultCols <= 0 {
		c.DefaultCols = 80
	}
	if c.DefaultRows <= 0 {
		c.DefaultRows = 24
	}
	return c
}

// session is one live PTY process. It exists in the manager's map only
// while the process is running; exit and explicit close both remove it,
// idempotently, in whichever order they land.
type session struct {
	id    string
	cmd   *exec.Cmd
	ptmx  *os.File
	shell string
	cwd   string

	mu      sync.Mutex
	stopped bool
}

// stop kills the process best-effort. Failures are swallowed: the process
// may already be gone.
func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGTERM)
	}
	s.ptmx.Close()
}

// Manager owns the live PTY processes. It is the only component that
// mutates the live-process map; everything upstream talks to it through
// the transport.
type Manager struct {
	cfg  Config
	sink Sink
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

func New(cfg Config, sink Sink, log *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		sink:     sink,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Create spawns a PTY process for id and reports its pid plus the resolved
// shell path. It fails with ErrCapacityExceeded at the live-process cap and
// ErrDuplicateSession if id already has a live process. Non-positive
// dimensions are clamped to the configured defaults.
func (m *Manager) Create(id string, opts term.CreateOptions) (int, string, error) {
	shell := resolveShell(opts.Shell)
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = m.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = m.cfg.DefaultRows
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		return 0, "", term.ErrCapacityExceeded
	}
	if _, ok := m.sessions[id]; ok {
		return 0, "", term.ErrDuplicateSession
	}

	cmd := exec.Command(shell, shellArgs(shell)...)
	cmd.Dir = opts.Cwd
	cmd.Env = sessionEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return 0, "", &term.CreateError{SessionID: id, Reason: err.Error()}
	}

	sess := &session{
		id:    id,
		cmd:   cmd,
		ptmx:  ptmx,
		shell: shell,
		cwd:   opts.Cwd,
	}
	m.sessions[id] = sess

	go m.readOutput(sess)
	go m.monitor(sess)

	pid := cmd.Process.Pid
	m.log.Info("session created",
		zap.String("id", id), zap.String("shell", shell), zap.Int("pid", pid))
	return pid, shell, nil
}

// readOutput pumps PTY output to the sink. A single goroutine per session
// keeps chunk order identical to the OS pipe's emission order.
func (m *Manager) readOutput(sess *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.sink.Data(sess.id, chunk)
		}
		if err != nil {
			return // EIO once the child side closes
		}
	}
}

// monitor waits for process exit, removes the handle, then emits the exit
// notification. This path never retries and never propagates a failure.
func (m *Manager) monitor(sess *session) {
	err := sess.cmd.Wait()

	code := 0
	if err != nil {
		code = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			code = exitErr.ExitCode()
		}
	}

	sess.mu.Lock()
	sess.stopped = true
	sess.ptmx.Close()
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sess.id)
	m.mu.Unlock()

	m.log.Info("session exited", zap.String("id", sess.id), zap.Int("exit_code", code))
	m.sink.Exit(sess.id, code)
}

// Write forwards input to the session's PTY. Unknown ids are ignored, not
// an error: the session may have exited between the caller's check and now.
func (m *Manager) Write(id string, data []byte) term.WriteResult {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return term.WriteIgnored
	}
	if _, err := sess.ptmx.Write(data); err != nil {
		return term.WriteIgnored
	}
	return term.WriteOK
}

// Resize applies new dimensions. Unknown ids and non-positive dimensions
// are ignored; a resize racing a concurrent exit is swallowed.
func (m *Manager) Resize(id string, cols, rows int) term.WriteResult {
	if cols <= 0 || rows <= 0 {
		return term.WriteIgnored
	}
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return term.WriteIgnored
	}
	if err := pty.Setsize(sess.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return term.WriteIgnored
	}
	return term.WriteOK
}

// Close kills the session best-effort and removes the handle regardless of
// the kill outcome. Closing an unknown id is a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.stop()
	m.log.Info("session closed", zap.String("id", id))
}

// CloseAll kills every live session. Invoked once at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

// Count reports the number of live processes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns the ids of all live sessions.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
