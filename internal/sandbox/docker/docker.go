// Package docker runs the sandbox working directory inside a long-lived
// container. Files stay in a host directory bind-mounted at /workspace.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"rewind/internal/sandbox"
)

// DefaultImage is used when no image is configured
const DefaultImage = "phact/sandbox"

// Engine is the subset of the Docker Engine API the sandbox needs
type Engine interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, image string) error
	CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	Close() error
}

// ClientEngine talks to the daemon through the official client
type ClientEngine struct {
	cli *client.Client
}

// NewEngine connects using the DOCKER_* environment
func NewEngine() (*ClientEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ClientEngine{cli: cli}, nil
}

func (e *ClientEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

func (e *ClientEngine) ImageExists(ctx context.Context, image string) error {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("sandbox image %q not found locally: %w", image, err)
		}
		return fmt.Errorf("inspect image: %w", err)
	}
	return nil
}

func (e *ClientEngine) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (e *ClientEngine) StartContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (e *ClientEngine) RemoveContainer(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (e *ClientEngine) Close() error {
	return e.cli.Close()
}

// Probe reports whether a daemon answers
func Probe(engine Engine) sandbox.Probe {
	return func(ctx context.Context) error {
		if err := engine.Ping(ctx); err != nil {
			return fmt.Errorf("%w: docker daemon: %v", sandbox.ErrUnavailable, err)
		}
		return nil
	}
}

// Options configures a docker sandbox
type Options struct {
	sandbox.LocalOptions
	Image     string
	SessionID string
	Logger    *slog.Logger
}

// Sandbox keeps files on the host and a container attached to them
type Sandbox struct {
	*sandbox.HostDirSandbox
	engine      Engine
	image       string
	name        string
	projectPath string
	shell       string
	logger      *slog.Logger

	mu          sync.Mutex
	containerID string
}

// New creates a docker sandbox using engine
func New(engine Engine, opts Options) *Sandbox {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sandbox{
		HostDirSandbox: sandbox.NewLocal(opts.LocalOptions),
		engine:         engine,
		image:          opts.Image,
		name:           ContainerName(opts.SessionID),
		projectPath:    opts.ProjectPath,
		shell:          "bash",
		logger:         opts.Logger.With("component", "sandbox", "mode", sandbox.ModeDocker),
	}
}

// ContainerName derives the container name of a session's sandbox
func ContainerName(sessionID string) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("teleport-%s", id)
}

// Mode reports the variant
func (s *Sandbox) Mode() sandbox.Mode {
	return sandbox.ModeDocker
}

// ContainerID returns the running container, empty before Start
func (s *Sandbox) ContainerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containerID
}

// Start creates the host directory and a container mounting it
func (s *Sandbox) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerID != "" {
		return s.WorkDir(), nil
	}

	if err := s.engine.Ping(ctx); err != nil {
		return "", fmt.Errorf("%w: docker daemon: %v", sandbox.ErrUnavailable, err)
	}
	if err := s.engine.ImageExists(ctx, s.image); err != nil {
		return "", err
	}

	hostDir, err := s.HostDirSandbox.Start(ctx)
	if err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:      s.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
		Labels:     map[string]string{"rewind.sandbox": "teleport"},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{hostDir + ":/workspace"},
	}

	id, err := s.engine.CreateContainer(ctx, s.name, cfg, hostCfg)
	if err != nil {
		s.HostDirSandbox.Stop(ctx)
		return "", err
	}
	if err := s.engine.StartContainer(ctx, id); err != nil {
		if rmErr := s.engine.RemoveContainer(ctx, id); rmErr != nil {
			s.logger.Warn("failed to remove container after start failure", "container", id, "error", rmErr)
		}
		s.HostDirSandbox.Stop(ctx)
		return "", err
	}

	s.containerID = id
	s.logger.Info("container started", "container", id, "image", s.image, "host_dir", hostDir)
	return hostDir, nil
}

// Stop removes the container and the host directory
func (s *Sandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	id := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	var rmErr error
	if id != "" {
		rmErr = s.engine.RemoveContainer(ctx, id)
	}
	if err := s.HostDirSandbox.Stop(ctx); err != nil {
		return err
	}
	return rmErr
}

// ShellCommand attaches an interactive shell to the container
func (s *Sandbox) ShellCommand() []string {
	return []string{
		"docker", "exec", "-it",
		"-w", sandbox.WorkspaceDir(s.projectPath),
		s.ContainerID(),
		s.shell,
	}
}

// ExecCommand runs argv non-interactively inside the container
func (s *Sandbox) ExecCommand(argv []string) []string {
	cmd := []string{
		"docker", "exec",
		"-w", sandbox.WorkspaceDir(s.projectPath),
		s.ContainerID(),
	}
	return append(cmd, argv...)
}

// ShellDir returns the host working directory
func (s *Sandbox) ShellDir() string {
	return s.WorkDir()
}
