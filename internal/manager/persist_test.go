package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/term"
)

type nopSink struct{}

func (nopSink) Data(string, []byte) {}
func (nopSink) Exit(string, int)    {}

func newPersistManager(t *testing.T) *Manager {
	t.Helper()
	return New(Config{}, nopSink{}, zap.NewNop())
}

func sampleState(ids ...string) term.SavedState {
	state := term.SavedState{SavedAt: time.Now()}
	for _, id := range ids {
		state.Sessions = append(state.Sessions, term.SavedSession{
			ID:    id,
			Name:  "Shell " + id,
			Shell: "/bin/zsh",
			Cwd:   "/tmp",
		})
	}
	return state
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newPersistManager(t)
	ws := t.TempDir()

	err := m.SaveTerminalState(ws, sampleState("a", "b"), map[string]string{"a": "x", "b": "y"})
	require.NoError(t, err)

	state, scrollbacks, err := m.LoadTerminalState(ws)
	require.NoError(t, err)
	require.NotNil(t, state)

	ids := []string{state.Sessions[0].ID, state.Sessions[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, scrollbacks)
	assert.Equal(t, "Shell a", state.Sessions[0].Name)
	assert.False(t, state.SavedAt.IsZero())
}

func TestSaveDeletesOrphanedScrollbacks(t *testing.T) {
	m := newPersistManager(t)
	ws := t.TempDir()

	err := m.SaveTerminalState(ws, sampleState("a", "b", "c"),
		map[string]string{"a": "1", "b": "2", "c": "3"})
	require.NoError(t, err)

	orphan := filepath.Join(ws, "terminals", "c.scrollback")
	_, err = os.Stat(orphan)
	require.NoError(t, err)

	// C omitted from the next save: its scrollback must not survive.
	err = m.SaveTerminalState(ws, sampleState("a", "b"),
		map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingStateIsAbsenceNotError(t *testing.T) {
	m := newPersistManager(t)

	state, scrollbacks, err := m.LoadTerminalState(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Nil(t, scrollbacks)
}

func TestLoadUnparsableStateIsAbsence(t *testing.T) {
	m := newPersistManager(t)
	ws := t.TempDir()

	dir := filepath.Join(ws, "terminals")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions.json"), []byte("{not json"), 0644))

	state, scrollbacks, err := m.LoadTerminalState(ws)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Nil(t, scrollbacks)
}

func TestLoadSkipsUnreadableScrollbacks(t *testing.T) {
	m := newPersistManager(t)
	ws := t.TempDir()

	err := m.SaveTerminalState(ws, sampleState("a", "b"), map[string]string{"a": "x", "b": "y"})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(ws, "terminals", "b.scrollback")))

	state, scrollbacks, err := m.LoadTerminalState(ws)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Len(t, state.Sessions, 2)
	assert.Equal(t, map[string]string{"a": "x"}, scrollbacks)
}

func TestSaveWritesStateFileLayout(t *testing.T) {
	m := newPersistManager(t)
	ws := t.TempDir()

	err := m.SaveTerminalState(ws, sampleState("a"), map[string]string{"a": "history"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws, "terminals", "sessions.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessions"`)
	assert.Contains(t, string(data), `"saved_at"`)

	text, err := os.ReadFile(filepath.Join(ws, "terminals", "a.scrollback"))
	require.NoError(t, err)
	assert.Equal(t, "history", string(text))
}
