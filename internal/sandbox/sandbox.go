// Package sandbox provides isolated working directories that restored files
// are written into. Variants differ in where the directory lives and how a
// shell is attached to it; the restore path only depends on Sandbox.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Mode selects a sandbox variant
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeMicroVM Mode = "microvm"
	ModeDocker  Mode = "docker"
	ModeSSH     Mode = "ssh"
)

// Modes lists every known variant in preference order
var Modes = []Mode{ModeLocal, ModeMicroVM, ModeDocker, ModeSSH}

// ParseMode validates a mode name. Empty selects local.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeLocal, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown sandbox mode %q", s)
}

var (
	// ErrNotStarted is returned by file operations before Start
	ErrNotStarted = errors.New("sandbox not started")
	// ErrPathEscape is returned for paths that leave the working directory
	ErrPathEscape = errors.New("path escapes sandbox root")
	// ErrUnavailable is returned when a variant's runtime is missing
	ErrUnavailable = errors.New("sandbox runtime unavailable")
)

// Sandbox is an isolated working directory
type Sandbox interface {
	// Start provisions the working directory and returns its location.
	// Calling Start on a started sandbox returns the same location.
	Start(ctx context.Context) (string, error)
	// WriteFile stores data at a path relative to the working directory,
	// creating parent directories.
	WriteFile(ctx context.Context, p string, data []byte) error
	// ReadFile returns the bytes stored at a relative path
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// Stop releases the working directory and everything in it. Stopping a
	// stopped sandbox is a no-op.
	Stop(ctx context.Context) error
	// WorkDir returns the working directory, empty before Start
	WorkDir() string
	// Mode reports the variant
	Mode() Mode
}

// Shell is implemented by sandboxes that can host an interactive shell
type Shell interface {
	// ShellCommand returns the argv that opens a shell inside the sandbox
	ShellCommand() []string
	// ShellDir is the host directory the command is started from
	ShellDir() string
}

// Executor is implemented by sandboxes that run commands inside an isolated
// runtime rather than on this host
type Executor interface {
	// ExecCommand wraps argv so that it runs in the sandbox's working directory
	ExecCommand(argv []string) []string
}

// HostBacked is implemented by sandboxes whose files live on this host
type HostBacked interface {
	HostDir() string
}

// RelPath converts a restore path into a clean slash-separated path relative
// to the sandbox root. Absolute paths are re-rooted; paths that climb out of
// the root are rejected.
func RelPath(p string) (string, error) {
	rel := strings.TrimLeft(filepath.ToSlash(p), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
		}
	}
	return clean, nil
}

// HostPath joins a restore path onto a host directory
func HostPath(root, p string) (string, error) {
	rel, err := RelPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// TempPrefix is the temp directory prefix used for a session's sandbox
func TempPrefix(sessionID string) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("teleport_%s_", id)
}

// WorkspaceDir is where a host directory is mounted inside a container or
// microVM, extended by the project path so a shell opens in the project.
func WorkspaceDir(projectPath string) string {
	if projectPath == "" || projectPath == "/" {
		return "/workspace"
	}
	return path.Join("/workspace", filepath.ToSlash(projectPath))
}
