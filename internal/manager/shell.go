package manager

import (
	"os"
	"path/filepath"
	"runtime"
)

// resolveShell picks the executable for a session: explicit path if given,
// otherwise $SHELL, otherwise the platform fallback.
func resolveShell(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	return "/bin/bash"
}

// shellArgs returns the argument vector for an interactive shell. zsh, bash
// and fish get a login-shell flag so user profiles load; anything else runs
// bare. Arguments are always a vector, never a shell string.
func shellArgs(shell string) []string {
	switch filepath.Base(shell) {
	case "zsh", "bash", "fish":
		return []string{"-l"}
	default:
		return nil
	}
}

// sessionEnv merges the daemon's environment with a forced 256-color
// terminal type.
func sessionEnv() []string {
	return append(os.Environ(), "TERM=xterm-256color")
}
