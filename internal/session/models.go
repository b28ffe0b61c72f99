// internal/session/models.go
package session

import "time"

// UntitledSession is the title of a session without usable user text
const UntitledSession = "Untitled Session"

// DefaultTitleMaxLength bounds session titles, in runes
const DefaultTitleMaxLength = 200

// Session is the lightweight metadata of one transcript file
type Session struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	ProjectPath     string    `json:"project_path"`
	FilePath        string    `json:"file_path"`
	Title           string    `json:"title"`
	MessageCount    int       `json:"message_count"`
	CheckpointCount int       `json:"checkpoint_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	IsAgent         bool      `json:"is_agent"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	AgentIDs        []string  `json:"agent_ids,omitempty"`
}

// Project groups the sessions recorded for one working directory
type Project struct {
	// ID is the escaped directory name under projects/
	ID string `json:"id"`
	// Path is the display path recovered from ID
	Path     string     `json:"path"`
	Sessions []*Session `json:"sessions"`
}

// LastActivity returns the most recent session update in the project
func (p *Project) LastActivity() time.Time {
	var latest time.Time
	for _, s := range p.Sessions {
		if s.UpdatedAt.After(latest) {
			latest = s.UpdatedAt
		}
	}
	return latest
}
