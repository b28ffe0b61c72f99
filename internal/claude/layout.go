package claude

import (
	"os"
	"path/filepath"
	"strings"
)

// AgentFilePrefix marks subordinate agent runs of another session
const AgentFilePrefix = "agent-"

// SessionFileExt is the extension of session transcript files
const SessionFileExt = ".jsonl"

// ProjectsDir returns ~/.claude/projects for the given Claude directory
func ProjectsDir(claudeDir string) string {
	return filepath.Join(claudeDir, "projects")
}

// FileHistoryDir returns the root of the content-addressed checkpoint store
func FileHistoryDir(claudeDir string) string {
	return filepath.Join(claudeDir, "file-history")
}

// EscapeProjectPath converts a project path into Claude's directory name
func EscapeProjectPath(projectPath string) string {
	return strings.ReplaceAll(projectPath, "/", "-")
}

// UnescapeProjectPath converts an escaped project directory name back into a
// display path. The mapping is lossy: dashes in the original path come back
// as separators.
func UnescapeProjectPath(escaped string) string {
	if strings.HasPrefix(escaped, "-") {
		return "/" + strings.ReplaceAll(escaped[1:], "-", "/")
	}
	return strings.ReplaceAll(escaped, "-", "/")
}

// SessionIDFromFile returns the file stem, which is the session identifier
func SessionIDFromFile(filePath string) string {
	return strings.TrimSuffix(filepath.Base(filePath), SessionFileExt)
}

// IsAgentFile reports whether the file is a subordinate agent run
func IsAgentFile(filePath string) bool {
	return strings.HasPrefix(filepath.Base(filePath), AgentFilePrefix)
}

// IsSessionFile reports whether a directory entry looks like a transcript
func IsSessionFile(entry os.DirEntry) bool {
	return !entry.IsDir() && strings.HasSuffix(entry.Name(), SessionFileExt)
}

// IsDirOrSymlink reports whether the entry is a directory or a symlink that
// resolves to one.
func IsDirOrSymlink(entry os.DirEntry, parentDir string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(parentDir, entry.Name()))
	return err == nil && fi.IsDir()
}
