package teleport

import (
	"sort"
	"sync"
	"time"

	"rewind/internal/sandbox"
)

// LatestTarget names a restoration of the newest checkpoint of every file
const LatestTarget = "latest"

// RestoredFile is one file written into the sandbox
type RestoredFile struct {
	Path    string `json:"path"`
	Hash    string `json:"hash"`
	Version int    `json:"version"`
	Size    int    `json:"size"`
}

// FailedFile is a checkpoint that resolved to a path but could not be restored
type FailedFile struct {
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Error string `json:"error"`
}

// Session is an active restoration of a source session into a sandbox
type Session struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	Target      string    `json:"target"`
	Mode        string    `json:"mode"`
	WorkDir     string    `json:"work_dir"`
	CreatedAt   time.Time `json:"created_at"`
	// Files lists restored files sorted by path
	Files []RestoredFile `json:"files"`
	// Unresolved lists checkpoint hashes with no known original path
	Unresolved []string     `json:"unresolved,omitempty"`
	Failed     []FailedFile `json:"failed,omitempty"`
	// Baseline is the commit recording the restored state, empty when disabled
	Baseline string `json:"baseline,omitempty"`

	Sandbox sandbox.Sandbox `json:"-"`

	mu       sync.Mutex
	released bool
}

// Restored returns original path → path hash for every restored file
func (s *Session) Restored() map[string]string {
	out := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f.Hash
	}
	return out
}

// Paths returns the restored original paths, sorted
func (s *Session) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	sort.Strings(paths)
	return paths
}

// Released reports whether Release has completed for this session
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// hostDir returns the host directory holding the files, empty for remote sandboxes
func (s *Session) hostDir() string {
	if hb, ok := s.Sandbox.(sandbox.HostBacked); ok {
		return hb.HostDir()
	}
	return ""
}
