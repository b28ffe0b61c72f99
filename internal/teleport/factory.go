package teleport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rewind/internal/config"
	"rewind/internal/sandbox"
	"rewind/internal/sandbox/docker"
	"rewind/internal/sandbox/remote"
)

// Factory builds sandboxes of the configured mode
type Factory struct {
	cfg    config.SandboxConfig
	mode   sandbox.Mode
	logger *slog.Logger

	// newEngine connects to the Docker daemon; replaced in tests
	newEngine func() (docker.Engine, error)

	mu     sync.Mutex
	engine docker.Engine
}

// NewFactory validates cfg.Mode and returns a Factory
func NewFactory(cfg config.SandboxConfig, logger *slog.Logger) (*Factory, error) {
	mode, err := sandbox.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		mode:   mode,
		logger: logger,
		newEngine: func() (docker.Engine, error) {
			return docker.NewEngine()
		},
	}, nil
}

// Mode returns the mode sandboxes are created in
func (f *Factory) Mode() sandbox.Mode {
	return f.mode
}

// New creates an unstarted sandbox; it satisfies SandboxFactory
func (f *Factory) New(sessionID, projectPath string) (sandbox.Sandbox, error) {
	local := sandbox.LocalOptions{
		TempDir:     f.cfg.TempDir,
		Prefix:      sandbox.TempPrefix(sessionID),
		Shell:       f.cfg.Shell,
		ProjectPath: projectPath,
	}

	switch f.mode {
	case sandbox.ModeLocal:
		return sandbox.NewLocal(local), nil

	case sandbox.ModeMicroVM:
		return sandbox.NewMicroVM(sandbox.MicroVMOptions{LocalOptions: local, Image: f.cfg.Image}), nil

	case sandbox.ModeDocker:
		engine, err := f.dockerEngine()
		if err != nil {
			return nil, err
		}
		return docker.New(engine, docker.Options{
			LocalOptions: local,
			Image:        f.cfg.Image,
			SessionID:    sessionID,
			Logger:       f.logger,
		}), nil

	case sandbox.ModeSSH:
		if err := f.cfg.SSH.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", sandbox.ErrUnavailable, err)
		}
		return remote.New(remote.Options{
			Connection:  f.cfg.SSH,
			Prefix:      sandbox.TempPrefix(sessionID),
			ProjectPath: projectPath,
			Logger:      f.logger,
		}), nil
	}
	return nil, fmt.Errorf("unsupported sandbox mode %q", f.mode)
}

func (f *Factory) dockerEngine() (docker.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.engine != nil {
		return f.engine, nil
	}
	engine, err := f.newEngine()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrUnavailable, err)
	}
	f.engine = engine
	return engine, nil
}

// Availability returns a cache of mode probes backed by this factory's settings
func (f *Factory) Availability(ttl time.Duration) *sandbox.Availability {
	return sandbox.NewAvailability(map[sandbox.Mode]sandbox.Probe{
		sandbox.ModeMicroVM: sandbox.MsbProbe,
		sandbox.ModeDocker: func(ctx context.Context) error {
			engine, err := f.dockerEngine()
			if err != nil {
				return err
			}
			return docker.Probe(engine)(ctx)
		},
		sandbox.ModeSSH: remote.Probe(f.cfg.SSH),
	}, ttl)
}

// Close releases the Docker client if one was opened
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.engine == nil {
		return nil
	}
	err := f.engine.Close()
	f.engine = nil
	return err
}
