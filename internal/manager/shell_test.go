package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveShellPrefersExplicitPath(t *testing.T) {
	assert.Equal(t, "/usr/local/bin/fish", resolveShell("/usr/local/bin/fish"))
}

func TestResolveShellFallsBackToEnvironment(t *testing.T) {
	t.Setenv("SHELL", "/bin/dash")
	assert.Equal(t, "/bin/dash", resolveShell(""))
}

func TestShellArgsLoginFlag(t *testing.T) {
	assert.Equal(t, []string{"-l"}, shellArgs("/bin/zsh"))
	assert.Equal(t, []string{"-l"}, shellArgs("/bin/bash"))
	assert.Equal(t, []string{"-l"}, shellArgs("/usr/bin/fish"))
	assert.Nil(t, shellArgs("/bin/sh"))
	assert.Nil(t, shellArgs("/usr/bin/python3"))
}

func TestSessionEnvForces256Color(t *testing.T) {
	env := sessionEnv()
	assert.Contains(t, env, "TERM=xterm-256color")
}
