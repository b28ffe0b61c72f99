// internal/database/db.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no teleport has the requested id
var ErrNotFound = errors.New("teleport not found")

// Database wraps the SQLite ledger of teleports
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teleports (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		project_path TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		work_dir TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		files_restored INTEGER NOT NULL DEFAULT 0,
		files_failed INTEGER NOT NULL DEFAULT 0,
		unresolved INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		released_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_teleports_session ON teleports(session_id);
	CREATE INDEX IF NOT EXISTS idx_teleports_status ON teleports(status);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

const teleportColumns = `id, session_id, project_path, mode, work_dir, target, files_restored, files_failed, unresolved, status, error, created_at, released_at`

// RecordTeleport inserts or replaces a teleport record
func (d *Database) RecordTeleport(tp *Teleport) error {
	if tp.CreatedAt.IsZero() {
		tp.CreatedAt = time.Now()
	}
	if tp.Status == "" {
		tp.Status = StatusActive
	}

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO teleports (`+teleportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tp.ID, tp.SessionID, tp.ProjectPath, tp.Mode, tp.WorkDir, tp.Target,
		tp.FilesRestored, tp.FilesFailed, tp.Unresolved, tp.Status, tp.Error,
		tp.CreatedAt.Unix(), nullableTime(tp.ReleasedAt))
	if err != nil {
		return fmt.Errorf("record teleport %s: %w", tp.ID, err)
	}
	return nil
}

// MarkReleased flags an active teleport as released. Releasing twice keeps
// the first release time.
func (d *Database) MarkReleased(id string, at time.Time) error {
	result, err := d.db.Exec(`
		UPDATE teleports SET status = ?, released_at = COALESCE(released_at, ?)
		WHERE id = ? AND status != ?`,
		StatusReleased, at.Unix(), id, StatusFailed)
	if err != nil {
		return fmt.Errorf("release teleport %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := d.GetTeleport(id); err != nil {
			return err
		}
	}
	return nil
}

// MarkFailed flags a teleport whose restoration did not complete
func (d *Database) MarkFailed(id string, cause error, at time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := d.db.Exec(`
		UPDATE teleports SET status = ?, error = ?, released_at = COALESCE(released_at, ?)
		WHERE id = ?`,
		StatusFailed, msg, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("fail teleport %s: %w", id, err)
	}
	return nil
}

// GetTeleport retrieves a teleport by id
func (d *Database) GetTeleport(id string) (*Teleport, error) {
	row := d.db.QueryRow(`SELECT `+teleportColumns+` FROM teleports WHERE id = ?`, id)
	tp, err := scanTeleport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tp, err
}

// ListTeleports returns the newest teleports first, optionally only those of
// one session. A limit of zero or less returns everything.
func (d *Database) ListTeleports(sessionID string, limit int) ([]*Teleport, error) {
	query := `SELECT ` + teleportColumns + ` FROM teleports`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return d.queryTeleports(query, args...)
}

// ListActiveTeleports returns teleports whose sandbox was never released
func (d *Database) ListActiveTeleports() ([]*Teleport, error) {
	return d.queryTeleports(`SELECT `+teleportColumns+` FROM teleports WHERE status = ? ORDER BY created_at DESC, id`, StatusActive)
}

// DeleteTeleport removes a record
func (d *Database) DeleteTeleport(id string) error {
	_, err := d.db.Exec("DELETE FROM teleports WHERE id = ?", id)
	return err
}

func (d *Database) queryTeleports(query string, args ...interface{}) ([]*Teleport, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teleports []*Teleport
	for rows.Next() {
		tp, err := scanTeleport(rows)
		if err != nil {
			return nil, err
		}
		teleports = append(teleports, tp)
	}
	return teleports, rows.Err()
}

// Helper functions

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTeleport(row scanner) (*Teleport, error) {
	tp := &Teleport{}
	var createdAt int64
	var releasedAt sql.NullInt64

	err := row.Scan(&tp.ID, &tp.SessionID, &tp.ProjectPath, &tp.Mode, &tp.WorkDir, &tp.Target,
		&tp.FilesRestored, &tp.FilesFailed, &tp.Unresolved, &tp.Status, &tp.Error,
		&createdAt, &releasedAt)
	if err != nil {
		return nil, err
	}

	tp.CreatedAt = time.Unix(createdAt, 0)
	if releasedAt.Valid {
		t := time.Unix(releasedAt.Int64, 0)
		tp.ReleasedAt = &t
	}
	return tp, nil
}
