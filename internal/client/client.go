// Package client implements term.Transport over the daemon's yamux
// protocol: request/response and exit events on the control stream, raw
// terminal I/O on one dedicated stream per session.
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/yamux"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/daemon"
	"github.com/termdeck/termdeck/internal/term"
)

type Client struct {
	log  *zap.Logger
	conn net.Conn
	ys   *yamux.Session

	ctrl   net.Conn
	ctrlMu sync.Mutex // serialize control writes

	pendingMu sync.Mutex
	pending   map[string]chan daemon.Response

	streamMu sync.Mutex
	streams  map[string]net.Conn // session id -> data stream

	data  chan term.DataEvent
	exits chan term.ExitEvent

	reqCounter atomic.Uint64
	closed     chan struct{}
	closeOnce  sync.Once
}

// Dial connects to the daemon at the given unix socket path.
func Dial(socketPath string, log *zap.Logger) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	c, err := New(conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New builds a client on an established connection. Split from Dial so
// tests can run the handshake over an in-memory pipe.
func New(conn net.Conn, log *zap.Logger) (*Client, error) {
	ys, err := yamux.Client(conn, yamux.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("yamux handshake: %w", err)
	}

	ctrl, err := ys.Open()
	if err != nil {
		ys.Close()
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	c := &Client{
		log:     log,
		conn:    conn,
		ys:      ys,
		ctrl:    ctrl,
		pending: make(map[string]chan daemon.Response),
		streams: make(map[string]net.Conn),
		data:    make(chan term.DataEvent, 256),
		exits:   make(chan term.ExitEvent, 16),
		closed:  make(chan struct{}),
	}
	go c.readControl()
	return c, nil
}

// Shutdown disconnects from the daemon. Sessions keep running; the daemon
// owns them.
func (c *Client) Shutdown() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.ys.Close()
	return c.conn.Close()
}

// Ping checks that the daemon is responsive.
func (c *Client) Ping() error {
	resp, err := c.sendRequest(daemon.Request{Command: daemon.CmdPing})
	if err != nil {
		return err
	}
	if resp.Event != daemon.EvtPong {
		return fmt.Errorf("unexpected response: %s", resp.Event)
	}
	return nil
}

// ListSessions returns the ids of all sessions live in the daemon.
func (c *Client) ListSessions() ([]string, error) {
	resp, err := c.sendRequest(daemon.Request{Command: daemon.CmdList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// CreateSession implements term.Transport. The data stream is opened and
// tagged before the create request goes out, so the prompt the shell
// prints immediately after spawn has somewhere to land.
func (c *Client) CreateSession(id string, opts term.CreateOptions) (int, string, error) {
	stream, err := c.ys.Open()
	if err != nil {
		return 0, "", fmt.Errorf("open data stream: %w", err)
	}
	if err := daemon.WriteStreamHeader(stream, id); err != nil {
		stream.Close()
		return 0, "", fmt.Errorf("tag data stream: %w", err)
	}

	c.streamMu.Lock()
	c.streams[id] = stream
	c.streamMu.Unlock()

	resp, err := c.sendRequest(daemon.Request{
		Command:   daemon.CmdCreate,
		SessionID: id,
		Options:   &opts,
	})
	if err != nil {
		c.dropStream(id)
		return 0, "", err
	}
	if resp.Event == daemon.EvtError {
		c.dropStream(id)
		return 0, "", mapCreateError(id, resp)
	}
	if resp.Event != daemon.EvtCreated {
		c.dropStream(id)
		return 0, "", &term.CreateError{SessionID: id, Reason: "response missing created payload"}
	}

	go c.readData(id, stream)
	return resp.PID, resp.Shell, nil
}

func mapCreateError(id string, resp daemon.Response) error {
	switch resp.Code {
	case daemon.CodeCapacityExceeded:
		return term.ErrCapacityExceeded
	case daemon.CodeDuplicateSession:
		return term.ErrDuplicateSession
	default:
		return &term.CreateError{SessionID: id, Reason: resp.Error}
	}
}

// Write implements term.Transport. Fire-and-forget: unknown sessions and
// write failures are silently dropped.
func (c *Client) Write(id string, data []byte) {
	c.streamMu.Lock()
	stream, ok := c.streams[id]
	c.streamMu.Unlock()
	if !ok {
		return
	}
	stream.Write(data)
}

// Resize implements term.Transport. Fire-and-forget.
func (c *Client) Resize(id string, cols, rows int) {
	c.sendOneWay(daemon.Request{
		Command:   daemon.CmdResize,
		SessionID: id,
		Cols:      cols,
		Rows:      rows,
	})
}

// Close implements term.Transport. Fire-and-forget; also tears down the
// local data stream.
func (c *Client) Close(id string) {
	c.sendOneWay(daemon.Request{Command: daemon.CmdClose, SessionID: id})
	c.dropStream(id)
}

// CloseAll implements term.Transport.
func (c *Client) CloseAll() {
	c.sendOneWay(daemon.Request{Command: daemon.CmdCloseAll})
	c.streamMu.Lock()
	streams := c.streams
	c.streams = make(map[string]net.Conn)
	c.streamMu.Unlock()
	for _, stream := range streams {
		stream.Close()
	}
}

// SaveState implements term.Transport.
func (c *Client) SaveState(workspace string, state term.SavedState, scrollbacks map[string]string) error {
	resp, err := c.sendRequest(daemon.Request{
		Command:     daemon.CmdSaveState,
		Workspace:   workspace,
		State:       &state,
		Scrollbacks: scrollbacks,
	})
	if err != nil {
		return err
	}
	if resp.Event == daemon.EvtError {
		return fmt.Errorf("save state: %s", resp.Error)
	}
	return nil
}

// LoadState implements term.Transport. A nil state means no saved state
// exists for the workspace.
func (c *Client) LoadState(workspace string) (*term.SavedState, map[string]string, error) {
	resp, err := c.sendRequest(daemon.Request{
		Command:   daemon.CmdLoadState,
		Workspace: workspace,
	})
	if err != nil {
		return nil, nil, err
	}
	if resp.Event == daemon.EvtError {
		return nil, nil, fmt.Errorf("load state: %s", resp.Error)
	}
	return resp.State, resp.Scrollbacks, nil
}

// Data implements term.Transport.
func (c *Client) Data() <-chan term.DataEvent { return c.data }

// Exits implements term.Transport.
func (c *Client) Exits() <-chan term.ExitEvent { return c.exits }

func (c *Client) nextReqID() string {
	return fmt.Sprintf("r%d", c.reqCounter.Add(1))
}

func (c *Client) sendRequest(req daemon.Request) (daemon.Response, error) {
	req.ID = c.nextReqID()

	ch := make(chan daemon.Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.ctrlMu.Lock()
	err := daemon.WriteMessage(c.ctrl, req)
	c.ctrlMu.Unlock()
	if err != nil {
		return daemon.Response{}, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.closed:
		return daemon.Response{}, term.ErrTransportClosed
	}
}

func (c *Client) sendOneWay(req daemon.Request) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	daemon.WriteMessage(c.ctrl, req)
}

func (c *Client) readControl() {
	for {
		var resp daemon.Response
		if err := daemon.ReadMessage(c.ctrl, &resp); err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("control stream closed", zap.Error(err))
				c.closeOnce.Do(func() { close(c.closed) })
			}
			return
		}

		// Exit notifications carry no correlation id.
		if resp.Event == daemon.EvtExited && resp.ID == "" {
			c.dropStream(resp.SessionID)
			select {
			case c.exits <- term.ExitEvent{SessionID: resp.SessionID, ExitCode: resp.ExitCode}:
			case <-c.closed:
				return
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// readData pumps one session's output stream into the shared data channel.
// One goroutine per stream keeps per-session chunk order intact.
func (c *Client) readData(id string, stream net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.data <- term.DataEvent{SessionID: id, Chunk: chunk}:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) dropStream(id string) {
	c.streamMu.Lock()
	stream, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}
	c.streamMu.Unlock()
	if ok {
		stream.Close()
	}
}

var _ term.Transport = (*Client)(nil)
