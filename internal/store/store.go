// Package store keeps a sqlite journal of session lifecycles on the daemon
// side. It exists for reconciliation: rows still marked running when the
// daemon starts belonged to a previous daemon that crashed, and are marked
// lost so the history never claims a dead process is alive.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one journal row.
type Entry struct {
	ID        string
	Shell     string
	Cwd       string
	PID       int
	Status    string // running | exited | closed | lost
	CreatedAt time.Time
	ExitedAt  *time.Time
	ExitCode  *int
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart journals a freshly spawned session.
func (s *Store) RecordStart(id, shell, cwd string, pid int) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, shell, cwd, pid, status, created_at)
		 VALUES (?, ?, ?, ?, 'running', ?)`,
		id, shell, cwd, pid, time.Now())
	return err
}

// RecordExit journals an OS-driven exit with its code. Only rows still
// running are touched: a kill triggered by an explicit close emits an exit
// event too, and that event must not turn a closed row into an exited one.
func (s *Store) RecordExit(id string, exitCode int) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = 'exited', exited_at = ?, exit_code = ? WHERE id = ? AND status = 'running'`,
		time.Now(), exitCode, id)
	return err
}

// RecordClosed journals an explicit close. A close racing an exit loses:
// only rows still running are touched.
func (s *Store) RecordClosed(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = 'closed', exited_at = ? WHERE id = ? AND status = 'running'`,
		time.Now(), id)
	return err
}

// MarkLost flags rows left running by a previous daemon as lost and
// returns how many were flagged. Called once at daemon startup.
func (s *Store) MarkLost() (int64, error) {
	res, err := s.db.Exec(`UPDATE sessions SET status = 'lost' WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Recent returns the newest journal rows, most recent first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, shell, cwd, pid, status, created_at, exited_at, exit_code
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Shell, &e.Cwd, &e.PID, &e.Status,
			&e.CreatedAt, &e.ExitedAt, &e.ExitCode); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
