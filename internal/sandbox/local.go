package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalOptions configures a host directory sandbox
type LocalOptions struct {
	// TempDir is the parent of the working directory; empty uses os.TempDir
	TempDir string
	// Prefix names the working directory
	Prefix string
	// Shell is the interactive shell binary
	Shell string
	// ProjectPath is the original project location, used as the shell cwd
	ProjectPath string
}

// HostDirSandbox keeps its working directory in a temporary directory on
// this host.
type HostDirSandbox struct {
	opts LocalOptions

	mu   sync.RWMutex
	root string
}

// NewLocal creates a host directory sandbox
func NewLocal(opts LocalOptions) *HostDirSandbox {
	if opts.Prefix == "" {
		opts.Prefix = "teleport_"
	}
	if opts.Shell == "" {
		opts.Shell = defaultShell()
	}
	return &HostDirSandbox{opts: opts}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "bash"
}

// Mode reports the variant
func (s *HostDirSandbox) Mode() Mode {
	return ModeLocal
}

// Start creates the temporary directory
func (s *HostDirSandbox) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != "" {
		return s.root, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if s.opts.TempDir != "" {
		if err := os.MkdirAll(s.opts.TempDir, 0755); err != nil {
			return "", fmt.Errorf("create temp parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(s.opts.TempDir, s.opts.Prefix)
	if err != nil {
		return "", fmt.Errorf("create working dir: %w", err)
	}
	s.root = root
	return root, nil
}

// WorkDir returns the working directory
func (s *HostDirSandbox) WorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// HostDir returns the working directory on this host
func (s *HostDirSandbox) HostDir() string {
	return s.WorkDir()
}

// WriteFile writes data below the working directory
func (s *HostDirSandbox) WriteFile(ctx context.Context, p string, data []byte) error {
	target, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// ReadFile reads a file below the working directory
func (s *HostDirSandbox) ReadFile(ctx context.Context, p string) ([]byte, error) {
	target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Stop removes the working directory
func (s *HostDirSandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == "" {
		return nil
	}
	root := s.root
	s.root = ""
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove working dir: %w", err)
	}
	return nil
}

// ShellCommand opens the configured shell; the caller sets the directory
func (s *HostDirSandbox) ShellCommand() []string {
	return []string{s.opts.Shell}
}

// ShellDir returns the directory a shell should open in: the restored
// project directory when it exists, else the working directory.
func (s *HostDirSandbox) ShellDir() string {
	root := s.WorkDir()
	if root == "" || s.opts.ProjectPath == "" {
		return root
	}
	dir, err := HostPath(root, s.opts.ProjectPath)
	if err != nil {
		return root
	}
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir
	}
	return root
}

func (s *HostDirSandbox) resolve(p string) (string, error) {
	root := s.WorkDir()
	if root == "" {
		return "", ErrNotStarted
	}
	return HostPath(root, p)
}
