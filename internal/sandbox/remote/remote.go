// Package remote keeps the sandbox working directory on another machine
// reached over SSH. Files are streamed through remote shell commands.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"rewind/internal/sandbox"
)

// Connection describes the remote host
type Connection struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	User       string `yaml:"user" json:"user"`
	KeyPath    string `yaml:"key_path" json:"key_path,omitempty"`
	KnownHosts string `yaml:"known_hosts" json:"known_hosts,omitempty"`
}

// Address returns host:port
func (c Connection) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Validate checks the fields needed to dial
func (c Connection) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("ssh host is required")
	case c.User == "":
		return errors.New("ssh user is required")
	case c.KeyPath == "":
		return errors.New("ssh key path is required")
	}
	return nil
}

// ClientConfig builds an authenticated client configuration that verifies
// the host key against known_hosts.
func (c Connection) ClientConfig() (*ssh.ClientConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key, err := os.ReadFile(expandHome(c.KeyPath))
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	knownHostsPath := c.KnownHosts
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	hostKeys, err := knownhosts.New(expandHome(knownHostsPath))
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         10 * time.Second,
	}, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Runner executes one command on the remote host
type Runner interface {
	Run(ctx context.Context, cmd string, stdin []byte) ([]byte, error)
	Close() error
}

// Dialer opens a Runner for a connection
type Dialer func(ctx context.Context, conn Connection) (Runner, error)

// sshRunner runs each command in its own session of a shared client
type sshRunner struct {
	client *ssh.Client
}

// Dial connects over SSH
func Dial(ctx context.Context, conn Connection) (Runner, error) {
	cfg, err := conn.ClientConfig()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", conn.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", conn.Address(), err)
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, conn.Address(), cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	return &sshRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (r *sshRunner) Run(ctx context.Context, cmd string, stdin []byte) ([]byte, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer sess.Close()

	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	sess.Stderr = &stderr

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Signal(ssh.SIGKILL)
			sess.Close()
		case <-done:
		}
	}()
	defer close(done)

	out, err := sess.Output(cmd)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", firstWord(cmd), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", firstWord(cmd), err)
	}
	return out, nil
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}

func firstWord(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

// Options configures a remote sandbox
type Options struct {
	Connection Connection
	// TempDir is the remote parent directory; empty uses /tmp
	TempDir     string
	Prefix      string
	ProjectPath string
	Dialer      Dialer
	Logger      *slog.Logger
}

// Sandbox is a working directory on a remote host
type Sandbox struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	runner Runner
	root   string
}

// New creates a remote sandbox
func New(opts Options) *Sandbox {
	if opts.TempDir == "" {
		opts.TempDir = "/tmp"
	}
	if opts.Prefix == "" {
		opts.Prefix = "teleport_"
	}
	if opts.Dialer == nil {
		opts.Dialer = Dial
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sandbox{
		opts:   opts,
		logger: opts.Logger.With("component", "sandbox", "mode", sandbox.ModeSSH, "host", opts.Connection.Host),
	}
}

// Probe reports whether a connection is configured well enough to dial
func Probe(conn Connection) sandbox.Probe {
	return func(context.Context) error {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("%w: %v", sandbox.ErrUnavailable, err)
		}
		return nil
	}
}

// Mode reports the variant
func (s *Sandbox) Mode() sandbox.Mode {
	return sandbox.ModeSSH
}

// WorkDir returns the remote working directory
func (s *Sandbox) WorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Start connects and creates a remote temporary directory
func (s *Sandbox) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != "" {
		return s.root, nil
	}

	runner, err := s.opts.Dialer(ctx, s.opts.Connection)
	if err != nil {
		return "", err
	}

	template := path.Join(s.opts.TempDir, s.opts.Prefix+"XXXXXX")
	out, err := runner.Run(ctx, "mktemp -d "+Quote(template), nil)
	if err != nil {
		runner.Close()
		return "", fmt.Errorf("create remote working dir: %w", err)
	}
	root := strings.TrimSpace(string(out))
	if root == "" || !strings.HasPrefix(root, "/") {
		runner.Close()
		return "", fmt.Errorf("create remote working dir: unexpected mktemp output %q", root)
	}

	s.runner = runner
	s.root = root
	s.logger.Info("remote working dir created", "dir", root)
	return root, nil
}

func (s *Sandbox) resolve(p string) (Runner, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == "" {
		return nil, "", sandbox.ErrNotStarted
	}
	rel, err := sandbox.RelPath(p)
	if err != nil {
		return nil, "", err
	}
	return s.runner, path.Join(s.root, rel), nil
}

// WriteFile streams data into a remote file
func (s *Sandbox) WriteFile(ctx context.Context, p string, data []byte) error {
	runner, target, err := s.resolve(p)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", Quote(path.Dir(target)), Quote(target))
	if data == nil {
		data = []byte{}
	}
	if _, err := runner.Run(ctx, cmd, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// ReadFile streams a remote file back
func (s *Sandbox) ReadFile(ctx context.Context, p string) ([]byte, error) {
	runner, target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	out, err := runner.Run(ctx, "cat "+Quote(target), nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return out, nil
}

// Stop removes the remote directory and closes the connection
func (s *Sandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner, root := s.runner, s.root
	s.runner, s.root = nil, ""
	s.mu.Unlock()

	if runner == nil {
		return nil
	}
	defer runner.Close()

	if _, err := runner.Run(ctx, "rm -rf "+Quote(root), nil); err != nil {
		return fmt.Errorf("remove remote working dir: %w", err)
	}
	return nil
}

// ShellCommand opens an ssh session in the remote working directory
func (s *Sandbox) ShellCommand() []string {
	c := s.opts.Connection
	dir := s.WorkDir()
	if s.opts.ProjectPath != "" {
		if rel, err := sandbox.RelPath(s.opts.ProjectPath); err == nil {
			dir = path.Join(dir, rel)
		}
	}

	argv := []string{"ssh", "-t"}
	if c.Port != 0 && c.Port != 22 {
		argv = append(argv, "-p", strconv.Itoa(c.Port))
	}
	if c.KeyPath != "" {
		argv = append(argv, "-i", expandHome(c.KeyPath))
	}
	return append(argv, c.User+"@"+c.Host, fmt.Sprintf("cd %s 2>/dev/null || cd %s; exec $SHELL -l", Quote(dir), Quote(s.WorkDir())))
}

// ShellDir has no host directory; the ssh command changes directory remotely
func (s *Sandbox) ShellDir() string {
	return ""
}

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
