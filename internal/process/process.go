// internal/process/process.go
package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process represents a managed process
type Process struct {
	Key string
	Cmd *exec.Cmd
	PID int

	mu       sync.Mutex
	done     chan struct{}
	running  bool
	exitCode int
	waitErr  error
}

// NewProcess creates a new managed process
func NewProcess(key string, cmd *exec.Cmd) *Process {
	return &Process{
		Key:     key,
		Cmd:     cmd,
		done:    make(chan struct{}),
		running: false,
	}
}

// Start starts the process
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Own process group so signals reach children
	p.Cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := p.Cmd.Start(); err != nil {
		return err
	}

	p.PID = p.Cmd.Process.Pid
	p.running = true

	go func() {
		err := p.Cmd.Wait()
		p.mu.Lock()
		p.running = false
		p.waitErr = err
		p.exitCode = exitCode(p.Cmd, err)
		p.mu.Unlock()
		close(p.done)
	}()

	return nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// IsRunning returns whether the process is running
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ExitCode returns the exit status; -1 while running or when killed by a signal
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return -1
	}
	return p.exitCode
}

// Err returns the error from Wait, nil for a zero exit
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Signal sends a signal to the process
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.Cmd.Process == nil {
		return nil
	}

	return p.Cmd.Process.Signal(sig)
}

// GracefulShutdown escalates SIGINT, SIGTERM, then SIGKILL
func (p *Process) GracefulShutdown(ctx context.Context) error {
	p.Signal(syscall.SIGINT)

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.Cmd.Process != nil {
		return p.Cmd.Process.Kill()
	}
	return nil
}

// Wait waits for the process to exit
func (p *Process) Wait() {
	<-p.done
}

// Done returns a channel that closes when the process exits
func (p *Process) Done() <-chan struct{} {
	return p.done
}
