// internal/pty/manager.go
package pty

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EventEmitter receives terminal output
type EventEmitter interface {
	EmitPtyOutput(sessionID string, data string)
}

// Manager manages multiple PTY sessions
type Manager struct {
	ctx      context.Context
	emitter  EventEmitter
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a new PTY manager
func NewManager(ctx context.Context, emitter EventEmitter) *Manager {
	return &Manager{
		ctx:      ctx,
		emitter:  emitter,
		sessions: make(map[string]*Session),
	}
}

// CreateSession starts a program in a new PTY
func (m *Manager) CreateSession(opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[opts.ID]; exists {
		return nil, fmt.Errorf("session already exists: %s", opts.ID)
	}

	session, err := NewSession(opts)
	if err != nil {
		return nil, err
	}

	if err := session.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", session.Argv[0], err)
	}

	m.sessions[opts.ID] = session

	go m.readOutput(session)

	return session, nil
}

// readOutput copies PTY output to the session's writer and the emitter
func (m *Manager) readOutput(session *Session) {
	buf := make([]byte, 8192)

	for {
		select {
		case <-session.Done():
			return
		case <-m.ctx.Done():
			return
		default:
			n, err := session.Read(buf)
			if n > 0 {
				if session.output != nil {
					session.output.Write(buf[:n])
				}
				if m.emitter != nil {
					m.emitter.EmitPtyOutput(session.ID, string(buf[:n]))
				}
			}
			if err != nil {
				return
			}
		}
	}
}

// Wait blocks until the program in a session exits or ctx is done
func (m *Manager) Wait(ctx context.Context, sessionID string) error {
	session, ok := m.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	select {
	case <-session.Exited():
		return session.ExitErr()
	case <-session.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write sends data to a PTY session
func (m *Manager) Write(sessionID, data string) error {
	session, exists := m.GetSession(sessionID)
	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	return session.Write(data)
}

// Resize changes the terminal size for a session
func (m *Manager) Resize(sessionID string, rows, cols int) error {
	session, exists := m.GetSession(sessionID)
	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	return session.Resize(rows, cols)
}

// CloseSession closes a specific PTY session
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	return session.Close()
}

// CloseAll closes all PTY sessions
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		session.Close()
		delete(m.sessions, id)
	}
}

// ListSessions returns all active session IDs, sorted
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetSession returns a session by ID
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}
