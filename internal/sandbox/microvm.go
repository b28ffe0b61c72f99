package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultMicroVMImage is the image booted by msb when none is configured
const DefaultMicroVMImage = "phact/sandbox"

// Probe reports whether a variant's runtime can be used
type Probe func(ctx context.Context) error

// MsbProbe checks that the microsandbox CLI is installed and answers
func MsbProbe(ctx context.Context) error {
	if _, err := exec.LookPath("msb"); err != nil {
		return fmt.Errorf("%w: msb not found in PATH", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "msb", "version").Run(); err != nil {
		return fmt.Errorf("%w: msb version: %v", ErrUnavailable, err)
	}
	return nil
}

// MicroVMOptions configures a microsandbox-backed sandbox
type MicroVMOptions struct {
	LocalOptions
	Image string
	// Probe overrides the msb availability check
	Probe Probe
}

// MicroVMSandbox keeps files in a host directory that is mounted at
// /workspace of a microVM when a shell is attached.
type MicroVMSandbox struct {
	*HostDirSandbox
	image       string
	projectPath string
	probe       Probe
}

// NewMicroVM creates a microVM sandbox
func NewMicroVM(opts MicroVMOptions) *MicroVMSandbox {
	if opts.Image == "" {
		opts.Image = DefaultMicroVMImage
	}
	if opts.Probe == nil {
		opts.Probe = MsbProbe
	}
	return &MicroVMSandbox{
		HostDirSandbox: NewLocal(opts.LocalOptions),
		image:          opts.Image,
		projectPath:    opts.ProjectPath,
		probe:          opts.Probe,
	}
}

// Mode reports the variant
func (s *MicroVMSandbox) Mode() Mode {
	return ModeMicroVM
}

// Start verifies msb is usable before creating the host directory
func (s *MicroVMSandbox) Start(ctx context.Context) (string, error) {
	if dir := s.WorkDir(); dir != "" {
		return dir, nil
	}
	if err := s.probe(ctx); err != nil {
		return "", err
	}
	return s.HostDirSandbox.Start(ctx)
}

// ShellCommand boots the image with the working directory mounted
func (s *MicroVMSandbox) ShellCommand() []string {
	return []string{
		"msb", "exe",
		"-v", s.WorkDir() + ":/workspace",
		"--workdir", WorkspaceDir(s.projectPath),
		"-e", "bash",
		s.image,
	}
}

// ShellDir returns the host working directory
func (s *MicroVMSandbox) ShellDir() string {
	return s.WorkDir()
}
