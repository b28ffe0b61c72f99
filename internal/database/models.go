// internal/database/models.go
package database

import "time"

// Teleport statuses
const (
	StatusActive   = "active"
	StatusReleased = "released"
	StatusFailed   = "failed"
)

// Teleport is one restoration of a session into a sandbox
type Teleport struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ProjectPath   string     `json:"project_path"`
	Mode          string     `json:"mode"`
	WorkDir       string     `json:"work_dir"`
	Target        string     `json:"target"` // restore point event id, empty for latest
	FilesRestored int        `json:"files_restored"`
	FilesFailed   int        `json:"files_failed"`
	Unresolved    int        `json:"unresolved"`
	Status        string     `json:"status"` // active, released, failed
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
}

// Active reports whether the sandbox has not been released yet
func (t *Teleport) Active() bool {
	return t.Status == StatusActive
}
