// Package daemon runs the long-lived process that owns PTY sessions. The
// app host connects over a unix socket; yamux multiplexes one JSON control
// stream plus one raw data stream per session on that single connection,
// so terminal output keeps pipe order without any sequencing of its own.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/hashicorp/yamux"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/manager"
	"github.com/termdeck/termdeck/internal/store"
	"github.com/termdeck/termdeck/internal/term"
)

// Config locates the daemon's runtime files.
type Config struct {
	SocketPath string
	PIDPath    string
	Manager    manager.Config
}

// controlWriter serializes frames onto one client's control stream.
type controlWriter struct {
	mu sync.Mutex
	w  net.Conn
}

func (cw *controlWriter) send(resp Response) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return WriteMessage(cw.w, resp)
}

// Daemon owns the session manager and serves the transport protocol. It is
// the manager's sink: output chunks go to the session's attached data
// stream, exits are broadcast to every connected client.
type Daemon struct {
	cfg     Config
	log     *zap.Logger
	mgr     *manager.Manager
	journal *store.Store // nil disables the journal

	clientMu sync.Mutex
	clients  map[*controlWriter]struct{}

	streamMu sync.Mutex
	streams  map[string]net.Conn // session id -> attached data stream
}

func New(cfg Config, journal *store.Store, log *zap.Logger) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		log:     log,
		journal: journal,
		clients: make(map[*controlWriter]struct{}),
		streams: make(map[string]net.Conn),
	}
	d.mgr = manager.New(cfg.Manager, d, log)
	return d
}

// Manager exposes the underlying session manager, for persistence calls
// and tests.
func (d *Daemon) Manager() *manager.Manager { return d.mgr }

// Run blocks serving the unix socket until the daemon is signalled.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := cleanStaleSocket(d.cfg.SocketPath, d.cfg.PIDPath, d.log); err != nil {
		return fmt.Errorf("clean stale socket: %w", err)
	}
	if err := os.WriteFile(d.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	if d.journal != nil {
		if n, err := d.journal.MarkLost(); err != nil {
			d.log.Warn("journal reconciliation failed", zap.Error(err))
		} else if n > 0 {
			d.log.Info("marked sessions from previous daemon as lost", zap.Int64("count", n))
		}
	}

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		d.log.Info("daemon shutting down")
		listener.Close()
		d.mgr.CloseAll()
		os.Remove(d.cfg.SocketPath)
		os.Remove(d.cfg.PIDPath)
		os.Exit(0)
	}()

	d.log.Info("daemon listening",
		zap.String("socket", d.cfg.SocketPath), zap.Int("pid", os.Getpid()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			return nil // listener closed
		}
		go d.ServeConn(conn)
	}
}

// ServeConn serves one client connection. Exported so tests can drive the
// daemon over an in-memory pipe.
func (d *Daemon) ServeConn(conn net.Conn) {
	defer conn.Close()

	ys, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		d.log.Warn("yamux handshake failed", zap.Error(err))
		return
	}
	defer ys.Close()

	// The first stream the client opens is the control stream; every
	// later one is a session data stream tagged by its header.
	ctrl, err := ys.Accept()
	if err != nil {
		return
	}

	cw := &controlWriter{w: ctrl}
	d.clientMu.Lock()
	d.clients[cw] = struct{}{}
	d.clientMu.Unlock()
	defer func() {
		d.clientMu.Lock()
		delete(d.clients, cw)
		d.clientMu.Unlock()
	}()

	go d.handleControl(cw, ctrl)

	for {
		stream, err := ys.Accept()
		if err != nil {
			return // connection closed
		}
		go d.handleDataStream(stream)
	}
}

func (d *Daemon) handleControl(cw *controlWriter, ctrl net.Conn) {
	for {
		var req Request
		if err := ReadMessage(ctrl, &req); err != nil {
			return // control stream closed
		}

		switch req.Command {
		case CmdPing:
			cw.send(Response{ID: req.ID, Event: EvtPong})

		case CmdCreate:
			d.handleCreate(cw, req)

		case CmdResize:
			d.mgr.Resize(req.SessionID, req.Cols, req.Rows)

		case CmdClose:
			// Journal before the kill: the kill's own exit event only
			// touches rows still running, so closed wins this race.
			if d.journal != nil {
				d.journal.RecordClosed(req.SessionID)
			}
			d.mgr.Close(req.SessionID)
			d.detachStream(req.SessionID)

		case CmdCloseAll:
			if d.journal != nil {
				for _, id := range d.mgr.List() {
					d.journal.RecordClosed(id)
				}
			}
			d.mgr.CloseAll()

		case CmdList:
			cw.send(Response{ID: req.ID, Event: EvtList, Sessions: d.mgr.List()})

		case CmdSaveState:
			d.handleSaveState(cw, req)

		case CmdLoadState:
			d.handleLoadState(cw, req)

		default:
			d.log.Warn("unknown command", zap.String("command", req.Command))
		}
	}
}

func (d *Daemon) handleCreate(cw *controlWriter, req Request) {
	var opts term.CreateOptions
	if req.Options != nil {
		opts = *req.Options
	}

	pid, shell, err := d.mgr.Create(req.SessionID, opts)
	if err != nil {
		cw.send(Response{
			ID:        req.ID,
			Event:     EvtError,
			SessionID: req.SessionID,
			Code:      createErrorCode(err),
			Error:     err.Error(),
		})
		return
	}

	if d.journal != nil {
		if err := d.journal.RecordStart(req.SessionID, shell, opts.Cwd, pid); err != nil {
			d.log.Warn("journal write failed", zap.String("id", req.SessionID), zap.Error(err))
		}
	}

	cw.send(Response{ID: req.ID, Event: EvtCreated, SessionID: req.SessionID, PID: pid, Shell: shell})
}

func createErrorCode(err error) string {
	switch {
	case errors.Is(err, term.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, term.ErrDuplicateSession):
		return CodeDuplicateSession
	default:
		return CodeCreateFailed
	}
}

func (d *Daemon) handleSaveState(cw *controlWriter, req Request) {
	if req.State == nil {
		cw.send(Response{ID: req.ID, Event: EvtError, Error: "missing state payload"})
		return
	}
	if err := d.mgr.SaveTerminalState(req.Workspace, *req.State, req.Scrollbacks); err != nil {
		cw.send(Response{ID: req.ID, Event: EvtError, Error: err.Error()})
		return
	}
	cw.send(Response{ID: req.ID, Event: EvtSaved})
}

func (d *Daemon) handleLoadState(cw *controlWriter, req Request) {
	state, scrollbacks, err := d.mgr.LoadTerminalState(req.Workspace)
	if err != nil {
		cw.send(Response{ID: req.ID, Event: EvtError, Error: err.Error()})
		return
	}
	cw.send(Response{ID: req.ID, Event: EvtState, State: state, Scrollbacks: scrollbacks})
}

// handleDataStream attaches a client-opened stream to its session and pumps
// terminal input from it. The client opens the stream before sending the
// create request, so no output emitted right after spawn is lost.
func (d *Daemon) handleDataStream(stream net.Conn) {
	id, err := ReadStreamHeader(stream)
	if err != nil {
		stream.Close()
		return
	}

	d.streamMu.Lock()
	if old, ok := d.streams[id]; ok {
		old.Close()
	}
	d.streams[id] = stream
	d.streamMu.Unlock()

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			d.mgr.Write(id, buf[:n])
		}
		if err != nil {
			break
		}
	}

	d.streamMu.Lock()
	if d.streams[id] == stream {
		delete(d.streams, id)
	}
	d.streamMu.Unlock()
	stream.Close()
}

func (d *Daemon) detachStream(id string) {
	d.streamMu.Lock()
	stream, ok := d.streams[id]
	if ok {
		delete(d.streams, id)
	}
	d.streamMu.Unlock()
	if ok {
		stream.Close()
	}
}

// Data implements manager.Sink: forward a chunk to the session's attached
// data stream. No attachment means no listener; the chunk is dropped.
func (d *Daemon) Data(id string, chunk []byte) {
	d.streamMu.Lock()
	stream, ok := d.streams[id]
	d.streamMu.Unlock()
	if !ok {
		return
	}
	if _, err := stream.Write(chunk); err != nil {
		d.detachStream(id)
	}
}

// Exit implements manager.Sink: journal the exit, tear down the data
// stream, and notify every connected client.
func (d *Daemon) Exit(id string, exitCode int) {
	if d.journal != nil {
		if err := d.journal.RecordExit(id, exitCode); err != nil {
			d.log.Warn("journal write failed", zap.String("id", id), zap.Error(err))
		}
	}
	d.detachStream(id)

	resp := Response{Event: EvtExited, SessionID: id, ExitCode: exitCode}
	d.clientMu.Lock()
	clients := make([]*controlWriter, 0, len(d.clients))
	for cw := range d.clients {
		clients = append(clients, cw)
	}
	d.clientMu.Unlock()

	for _, cw := range clients {
		cw.send(resp)
	}
}

// cleanStaleSocket removes a leftover socket file when no live daemon is
// behind it, and refuses to start when one is.
func cleanStaleSocket(socketPath, pidPath string, log *zap.Logger) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		conn.Close()
		return fmt.Errorf("daemon already running (socket active)")
	}

	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(string(pidData)); err == nil {
			if proc, err := os.FindProcess(pid); err == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon already running (pid %d)", pid)
				}
			}
		}
	}

	log.Info("removing stale socket", zap.String("socket", socketPath))
	os.Remove(socketPath)
	os.Remove(pidPath)
	return nil
}
