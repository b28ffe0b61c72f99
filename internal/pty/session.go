// internal/pty/session.go
package pty

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gopty "github.com/aymanbagabas/go-pty"
)

// Shell type constants
const (
	ShellTypeBash = "bash"
	ShellTypeZsh  = "zsh"
	ShellTypeFish = "fish"
	ShellTypeSh   = "sh"
)

// Cached default shell to avoid repeated file system checks
var (
	cachedDefaultShell     string
	cachedDefaultShellOnce sync.Once
)

// Options describes the program a session runs
type Options struct {
	ID string
	// Dir is the host working directory; empty inherits the current one
	Dir string
	// Argv is the command to run; empty starts the default shell
	Argv []string
	Rows int
	Cols int
	// Output receives everything the program writes, in addition to events
	Output io.Writer
	Env    []string
}

// Session represents a PTY terminal session
type Session struct {
	ID   string
	Dir  string
	Argv []string
	Rows int
	Cols int

	env     []string
	output  io.Writer
	pty     gopty.Pty
	cmd     *gopty.Cmd
	mu      sync.Mutex
	closed  bool
	started bool

	doneCh   chan struct{}
	exitedCh chan struct{}
	exitErr  error
}

// NewSession creates a new PTY session
func NewSession(opts Options) (*Session, error) {
	argv := opts.Argv
	if len(argv) == 0 {
		shell := getDefaultShell()
		argv = append([]string{shell}, ShellArgs(shell)...)
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}

	return &Session{
		ID:       opts.ID,
		Dir:      opts.Dir,
		Argv:     argv,
		Rows:     opts.Rows,
		Cols:     opts.Cols,
		env:      opts.Env,
		output:   opts.Output,
		doneCh:   make(chan struct{}),
		exitedCh: make(chan struct{}),
	}, nil
}

// getShellType determines the shell type from the shell path
func getShellType(shellPath string) string {
	base := strings.ToLower(filepath.Base(shellPath))
	switch {
	case strings.Contains(base, "zsh"):
		return ShellTypeZsh
	case strings.Contains(base, "bash"):
		return ShellTypeBash
	case strings.Contains(base, "fish"):
		return ShellTypeFish
	default:
		return ShellTypeSh
	}
}

// ShellArgs returns interactive arguments for a shell binary.
// Bash loads only .bashrc instead of the full login profile.
func ShellArgs(shellPath string) []string {
	if getShellType(shellPath) == ShellTypeBash {
		bashrc := filepath.Join(os.Getenv("HOME"), ".bashrc")
		if _, err := os.Stat(bashrc); err == nil {
			return []string{"--rcfile", bashrc}
		}
	}
	return []string{"-i"}
}

func (s *Session) buildEnv() []string {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color")
	return append(env, s.env...)
}

// Start initializes and starts the PTY session
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := gopty.New()
	if err != nil {
		return err
	}

	if err := p.Resize(s.Cols, s.Rows); err != nil {
		p.Close()
		return err
	}

	cmd := p.Command(s.Argv[0], s.Argv[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = s.buildEnv()

	if err := cmd.Start(); err != nil {
		p.Close()
		return err
	}

	s.pty = p
	s.cmd = cmd
	s.started = true

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(s.exitedCh)
	}()

	return nil
}

// Write sends data to the PTY
func (s *Session) Write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pty == nil || !s.started {
		return io.ErrClosedPipe
	}

	_, err := s.pty.Write([]byte(data))
	return err
}

// IsStarted returns whether the PTY session has started successfully
func (s *Session) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Read reads data from the PTY
func (s *Session) Read(buf []byte) (int, error) {
	if s.pty == nil {
		return 0, io.EOF
	}
	return s.pty.Read(buf)
}

// Resize changes the PTY terminal size
func (s *Session) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pty == nil {
		return nil
	}

	s.Rows = rows
	s.Cols = cols
	return s.pty.Resize(cols, rows)
}

// Close closes the PTY session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.doneCh)

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	if s.pty != nil {
		return s.pty.Close()
	}

	return nil
}

// Done returns a channel that is closed when the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Exited returns a channel that is closed when the program exits
func (s *Session) Exited() <-chan struct{} {
	return s.exitedCh
}

// ExitErr returns the program's exit error once Exited is closed
func (s *Session) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// detectDefaultShell finds the default shell (internal, not cached)
func detectDefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}

	shells := []string{
		"/bin/zsh",
		"/usr/bin/zsh",
		"/opt/homebrew/bin/zsh",
		"/bin/bash",
		"/usr/bin/bash",
		"/bin/sh",
		"/usr/bin/sh",
	}

	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}

	return "/bin/sh"
}

// DefaultShell returns the cached default shell path
func DefaultShell() string {
	return getDefaultShell()
}

func getDefaultShell() string {
	cachedDefaultShellOnce.Do(func() {
		cachedDefaultShell = detectDefaultShell()
	})
	return cachedDefaultShell
}
