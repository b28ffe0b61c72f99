// internal/process/manager.go
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"

	"rewind/internal/eventhub"
)

// EventEmitter receives process lifecycle events
type EventEmitter interface {
	EmitProcessChanged(event eventhub.ProcessChangedEvent)
}

// Spec describes a command to run
type Spec struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Manager manages multiple processes
type Manager struct {
	ctx       context.Context
	emitter   EventEmitter
	logger    *slog.Logger
	processes map[string]*Process
	mu        sync.RWMutex
}

// NewManager creates a new process manager
func NewManager(ctx context.Context, emitter EventEmitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:       ctx,
		emitter:   emitter,
		logger:    logger.With("component", "process"),
		processes: make(map[string]*Process),
	}
}

// Spawn starts a new process, replacing any running one with the same key
func (m *Manager) Spawn(key string, spec Spec) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty command")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.processes[key]; exists {
		existing.GracefulShutdown(m.ctx)
		delete(m.processes, key)
	}

	cmd := exec.CommandContext(m.ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	proc := NewProcess(key, cmd)
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}

	m.processes[key] = proc
	m.logger.Debug("process started", "key", key, "pid", proc.PID, "argv", spec.Argv)
	m.emit(proc, spec.Dir, "running")

	go func() {
		proc.Wait()
		m.mu.Lock()
		if m.processes[key] == proc {
			delete(m.processes, key)
		}
		m.mu.Unlock()
		m.emit(proc, spec.Dir, "stopped")
	}()

	return proc, nil
}

// Run spawns a process and waits for it. A non-zero exit is reported through
// the exit code, not the error.
func (m *Manager) Run(ctx context.Context, key string, spec Spec) (int, error) {
	proc, err := m.Spawn(key, spec)
	if err != nil {
		return -1, err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		proc.GracefulShutdown(context.Background())
		proc.Wait()
		return proc.ExitCode(), ctx.Err()
	}

	var exitErr *exec.ExitError
	if err := proc.Err(); err != nil && !errors.As(err, &exitErr) {
		return proc.ExitCode(), err
	}
	return proc.ExitCode(), nil
}

func (m *Manager) emit(proc *Process, dir, state string) {
	if m.emitter == nil {
		return
	}
	event := eventhub.ProcessChangedEvent{Key: proc.Key, PID: proc.PID, Cwd: dir, State: state}
	if state == "stopped" {
		code := proc.ExitCode()
		event.ExitCode = &code
	}
	m.emitter.EmitProcessChanged(event)
}

// Kill terminates a process by key
func (m *Manager) Kill(key string) error {
	m.mu.RLock()
	proc, exists := m.processes[key]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("process not found: %s", key)
	}

	return proc.GracefulShutdown(m.ctx)
}

// IsAlive checks if a process is running
func (m *Manager) IsAlive(key string) bool {
	m.mu.RLock()
	proc, exists := m.processes[key]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	return proc.IsRunning()
}

// KillAll terminates all processes
func (m *Manager) KillAll() {
	m.mu.Lock()
	procs := make([]*Process, 0, len(m.processes))
	for _, proc := range m.processes {
		procs = append(procs, proc)
	}
	m.processes = make(map[string]*Process)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.GracefulShutdown(m.ctx)
		}(proc)
	}
	wg.Wait()
}

// List returns all active process keys, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.processes))
	for key := range m.processes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a process by key
func (m *Manager) Get(key string) (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proc, exists := m.processes[key]
	return proc, exists
}

// Count returns the number of running processes
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processes)
}
