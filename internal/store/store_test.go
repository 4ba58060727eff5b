package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entryByID(t *testing.T, s *Store, id string) Entry {
	t.Helper()
	entries, err := s.Recent(100)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("entry %q not found", id)
	return Entry{}
}

func TestRecordStartAndExit(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStart("s1", "/bin/zsh", "/tmp", 4242))

	e := entryByID(t, s, "s1")
	assert.Equal(t, "running", e.Status)
	assert.Equal(t, 4242, e.PID)
	assert.Nil(t, e.ExitCode)

	require.NoError(t, s.RecordExit("s1", 3))

	e = entryByID(t, s, "s1")
	assert.Equal(t, "exited", e.Status)
	require.NotNil(t, e.ExitCode)
	assert.Equal(t, 3, *e.ExitCode)
	assert.NotNil(t, e.ExitedAt)
}

func TestRecordClosedOnlyTouchesRunningRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStart("s1", "/bin/sh", "", 1))
	require.NoError(t, s.RecordClosed("s1"))
	assert.Equal(t, "closed", entryByID(t, s, "s1").Status)

	// A close arriving after the exit must not rewrite history.
	require.NoError(t, s.RecordStart("s2", "/bin/sh", "", 2))
	require.NoError(t, s.RecordExit("s2", 0))
	require.NoError(t, s.RecordClosed("s2"))
	assert.Equal(t, "exited", entryByID(t, s, "s2").Status)
}

func TestRecordExitOnlyTouchesRunningRows(t *testing.T) {
	s := openTestStore(t)

	// The kill after an explicit close still emits an exit event; that
	// event must not turn the closed row into an exited one.
	require.NoError(t, s.RecordStart("s1", "/bin/sh", "", 1))
	require.NoError(t, s.RecordClosed("s1"))
	require.NoError(t, s.RecordExit("s1", 1))

	e := entryByID(t, s, "s1")
	assert.Equal(t, "closed", e.Status)
	assert.Nil(t, e.ExitCode)
}

func TestMarkLostFlagsLeftoverRunningRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStart("a", "/bin/sh", "", 1))
	require.NoError(t, s.RecordStart("b", "/bin/sh", "", 2))
	require.NoError(t, s.RecordStart("c", "/bin/sh", "", 3))
	require.NoError(t, s.RecordExit("c", 0))

	n, err := s.MarkLost()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, "lost", entryByID(t, s, "a").Status)
	assert.Equal(t, "lost", entryByID(t, s, "b").Status)
	assert.Equal(t, "exited", entryByID(t, s, "c").Status)

	// Nothing left to flag on a second pass.
	n, err = s.MarkLost()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordStartReplacesExistingRow(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStart("s1", "/bin/sh", "", 1))
	require.NoError(t, s.RecordExit("s1", 0))
	require.NoError(t, s.RecordStart("s1", "/bin/zsh", "/home", 99))

	e := entryByID(t, s, "s1")
	assert.Equal(t, "running", e.Status)
	assert.Equal(t, "/bin/zsh", e.Shell)
	assert.Equal(t, 99, e.PID)
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStart("a", "/bin/sh", "", 1))
	require.NoError(t, s.RecordStart("b", "/bin/sh", "", 2))
	require.NoError(t, s.RecordStart("c", "/bin/sh", "", 3))

	entries, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
