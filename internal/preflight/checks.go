// Package preflight probes the host environment before terminals can be
// offered: which shells are on PATH, and whether a usable default exists.
package preflight

import (
	"os"
	"os/exec"
	"path/filepath"
)

// ShellStatus reports whether one well-known shell is installed.
type ShellStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Installed bool   `json:"installed"`
}

var knownShells = []string{"zsh", "bash", "fish", "sh"}

// CheckShells probes PATH for every well-known shell.
func CheckShells() []ShellStatus {
	statuses := make([]ShellStatus, 0, len(knownShells))
	for _, name := range knownShells {
		path, err := exec.LookPath(name)
		if err != nil {
			statuses = append(statuses, ShellStatus{Name: name})
			continue
		}
		statuses = append(statuses, ShellStatus{Name: name, Path: path, Installed: true})
	}
	return statuses
}

// DefaultShell returns the shell new sessions get when none is requested:
// $SHELL when it points at an existing binary, otherwise the first
// well-known shell found on PATH.
func DefaultShell() (string, bool) {
	if env := os.Getenv("SHELL"); env != "" && filepath.IsAbs(env) {
		if _, err := os.Stat(env); err == nil {
			return env, true
		}
	}
	for _, s := range CheckShells() {
		if s.Installed {
			return s.Path, true
		}
	}
	return "", false
}
