package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/term"
)

const (
	stateDirName     = "terminals"
	stateFileName    = "sessions.json"
	scrollbackSuffix = ".scrollback"
	lockFileName     = ".lock"
	stateFilePerm    = 0644
	stateDirPerm     = 0755
)

// stateDir returns the terminal-state directory for a workspace.
func stateDir(workspace string) string {
	return filepath.Join(workspace, stateDirName)
}

// SaveTerminalState writes the workspace's sessions.json, then one
// scrollback file per saved session. There is no cross-file transaction;
// a partial write can leave stale scrollback files, which the orphan sweep
// at the end of every save cleans up best-effort.
func (m *Manager) SaveTerminalState(workspace string, state term.SavedState, scrollbacks map[string]string) error {
	dir := stateDir(workspace)
	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock state dir: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFileName), data, stateFilePerm); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	kept := make(map[string]struct{}, len(state.Sessions))
	for _, s := range state.Sessions {
		kept[s.ID] = struct{}{}
		path := filepath.Join(dir, s.ID+scrollbackSuffix)
		if err := os.WriteFile(path, []byte(scrollbacks[s.ID]), stateFilePerm); err != nil {
			return fmt.Errorf("write scrollback %s: %w", s.ID, err)
		}
	}

	m.sweepOrphans(dir, kept)
	m.log.Info("terminal state saved",
		zap.String("workspace", workspace), zap.Int("sessions", len(state.Sessions)))
	return nil
}

// sweepOrphans deletes scrollback files whose session id is absent from the
// latest saved state. Best-effort; failures are logged and swallowed.
func (m *Manager) sweepOrphans(dir string, kept map[string]struct{}) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, scrollbackSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, scrollbackSuffix)
		if _, ok := kept[id]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			m.log.Warn("orphan scrollback not removed", zap.String("file", name), zap.Error(err))
		}
	}
}

// LoadTerminalState reads a workspace's saved state. A missing or
// unparsable state file is absence, not an error: the caller falls back to
// a fresh terminal set. Scrollback files that cannot be read are skipped.
func (m *Manager) LoadTerminalState(workspace string) (*term.SavedState, map[string]string, error) {
	dir := stateDir(workspace)

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		return nil, nil, nil
	}

	var state term.SavedState
	if err := json.Unmarshal(data, &state); err != nil {
		m.log.Warn("state file unparsable, treating as absent",
			zap.String("workspace", workspace), zap.Error(err))
		return nil, nil, nil
	}

	scrollbacks := make(map[string]string, len(state.Sessions))
	for _, s := range state.Sessions {
		text, err := os.ReadFile(filepath.Join(dir, s.ID+scrollbackSuffix))
		if err != nil {
			continue
		}
		scrollbacks[s.ID] = string(text)
	}
	return &state, scrollbacks, nil
}
