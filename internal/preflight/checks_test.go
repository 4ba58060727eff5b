package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckShellsFindsSh(t *testing.T) {
	statuses := CheckShells()
	require.Len(t, statuses, len(knownShells))

	byName := make(map[string]ShellStatus, len(statuses))
	for _, s := range statuses {
		byName[s.Name] = s
	}
	// /bin/sh exists on every platform this runs on.
	require.True(t, byName["sh"].Installed)
	assert.NotEmpty(t, byName["sh"].Path)
}

func TestDefaultShellPrefersEnvironment(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")
	shell, ok := DefaultShell()
	require.True(t, ok)
	assert.Equal(t, "/bin/sh", shell)
}

func TestDefaultShellIgnoresMissingBinary(t *testing.T) {
	t.Setenv("SHELL", "/no/such/shell")
	shell, ok := DefaultShell()
	require.True(t, ok)
	assert.NotEqual(t, "/no/such/shell", shell)
}
