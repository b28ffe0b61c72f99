package teleport

import (
	"fmt"
	"sync"

	"rewind/internal/eventhub"
)

// State is a step of a session's restoration lifecycle
type State string

const (
	StateIdle            State = "idle"
	StateSandboxStarting State = "sandbox-starting"
	StateRestoring       State = "restoring"
	StateReady           State = "ready"
	StateShell           State = "running-external-shell"
	StateStopping        State = "stopping"
)

// transitions lists the allowed successors of each state
var transitions = map[State][]State{
	StateIdle:            {StateSandboxStarting},
	StateSandboxStarting: {StateRestoring, StateStopping, StateIdle},
	StateRestoring:       {StateReady, StateStopping},
	StateReady:           {StateShell, StateStopping},
	StateShell:           {StateReady, StateStopping},
	StateStopping:        {StateIdle},
}

// CanTransition reports whether from → to is a legal step
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the state of every source session. Sessions without an
// entry are idle.
type machine struct {
	hub *eventhub.EventHub

	mu     sync.Mutex
	states map[string]State
}

func newMachine(hub *eventhub.EventHub) *machine {
	return &machine{hub: hub, states: make(map[string]State)}
}

func (m *machine) get(sessionID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[sessionID]; ok {
		return s
	}
	return StateIdle
}

// acquire moves an idle session to sandbox-starting; any other state means a
// restoration already owns the session.
func (m *machine) acquire(sessionID string) error {
	m.mu.Lock()
	current, busy := m.states[sessionID]
	if busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrRestoreInProgress, sessionID, current)
	}
	m.states[sessionID] = StateSandboxStarting
	m.mu.Unlock()

	m.publish("", sessionID, StateIdle, StateSandboxStarting, nil)
	return nil
}

// move performs a transition and publishes it. cause is attached to the
// event when the step is taken because of a failure.
func (m *machine) move(teleportID, sessionID string, to State, cause error) error {
	m.mu.Lock()
	from, ok := m.states[sessionID]
	if !ok {
		from = StateIdle
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s for session %s", from, to, sessionID)
	}
	if to == StateIdle {
		delete(m.states, sessionID)
	} else {
		m.states[sessionID] = to
	}
	m.mu.Unlock()

	m.publish(teleportID, sessionID, from, to, cause)
	return nil
}

func (m *machine) publish(teleportID, sessionID string, from, to State, cause error) {
	event := eventhub.TeleportStateEvent{
		TeleportID: teleportID,
		SessionID:  sessionID,
		From:       string(from),
		To:         string(to),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	m.hub.EmitTeleportState(event)
}
