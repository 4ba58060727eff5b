package daemon

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/manager"
	"github.com/termdeck/termdeck/internal/store"
	"github.com/termdeck/termdeck/internal/term"
)

// startDaemon serves a journaled daemon over an in-memory pipe and returns
// a raw control stream for driving the protocol directly.
func startDaemon(t *testing.T) (*Daemon, *store.Store, net.Conn) {
	t.Helper()

	journal, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	d := New(Config{Manager: manager.Config{MaxSessions: 4}}, journal, zap.NewNop())
	serverConn, clientConn := net.Pipe()
	go d.ServeConn(serverConn)
	t.Cleanup(func() {
		d.Manager().CloseAll()
		clientConn.Close()
	})

	ys, err := yamux.Client(clientConn, yamux.DefaultConfig())
	require.NoError(t, err)
	ctrl, err := ys.Open()
	require.NoError(t, err)
	return d, journal, ctrl
}

// createSession drives one create request and waits for its reply, skipping
// any exit events interleaved on the control stream.
func createSession(t *testing.T, ctrl net.Conn, reqID, sessionID string) {
	t.Helper()
	require.NoError(t, WriteMessage(ctrl, Request{
		ID:        reqID,
		Command:   CmdCreate,
		SessionID: sessionID,
		Options:   &term.CreateOptions{Shell: "/bin/sh"},
	}))
	for {
		var resp Response
		require.NoError(t, ReadMessage(ctrl, &resp))
		if resp.ID != reqID {
			continue
		}
		require.Equal(t, EvtCreated, resp.Event)
		require.Greater(t, resp.PID, 0)
		return
	}
}

func journalStatus(t *testing.T, journal *store.Store, id string) string {
	t.Helper()
	entries, err := journal.Recent(10)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == id {
			return e.Status
		}
	}
	return ""
}

func TestCloseAllJournalsSessionsAsClosed(t *testing.T) {
	_, journal, ctrl := startDaemon(t)

	createSession(t, ctrl, "r1", "a")
	createSession(t, ctrl, "r2", "b")
	assert.Equal(t, "running", journalStatus(t, journal, "a"))
	assert.Equal(t, "running", journalStatus(t, journal, "b"))

	require.NoError(t, WriteMessage(ctrl, Request{Command: CmdCloseAll}))

	// Bulk close records the same closed status an individual close does,
	// and the trailing kill-driven exit events must not rewrite it.
	require.Eventually(t, func() bool {
		return journalStatus(t, journal, "a") == "closed" &&
			journalStatus(t, journal, "b") == "closed"
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "closed", journalStatus(t, journal, "a"))
	assert.Equal(t, "closed", journalStatus(t, journal, "b"))
}

func TestCloseJournalsSessionAsClosed(t *testing.T) {
	_, journal, ctrl := startDaemon(t)

	createSession(t, ctrl, "r1", "a")
	require.NoError(t, WriteMessage(ctrl, Request{Command: CmdClose, SessionID: "a"}))

	require.Eventually(t, func() bool {
		return journalStatus(t, journal, "a") == "closed"
	}, 5*time.Second, 20*time.Millisecond)
}
