package eventhub

import (
	"context"
	"sync"
)

// Broadcaster receives every event the hub emits
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// BroadcasterFunc adapts a function to Broadcaster
type BroadcasterFunc func(eventType string, payload interface{})

func (f BroadcasterFunc) BroadcastEvent(eventType string, payload interface{}) {
	f(eventType, payload)
}

// Event names
const (
	TeleportState   = "teleport:state"
	ProcessChanged  = "process:changed"
	PtyOutput       = "pty-output"
	SessionsChanged = "sessions:changed"
	GitChanged      = "git:changed"
)

// EventHub fans events out to its subscribers
type EventHub struct {
	ctx context.Context

	mu     sync.RWMutex
	nextID int
	subs   map[int]Broadcaster
}

// New creates an EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx, subs: make(map[int]Broadcaster)}
}

// Subscribe registers b and returns a function that removes it
func (h *EventHub) Subscribe(b Broadcaster) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = b
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h == nil {
		return
	}
	if h.ctx != nil && h.ctx.Err() != nil {
		return
	}
	h.mu.RLock()
	subs := make([]Broadcaster, 0, len(h.subs))
	for _, b := range h.subs {
		subs = append(subs, b)
	}
	h.mu.RUnlock()

	for _, b := range subs {
		b.BroadcastEvent(eventName, payload)
	}
}

// Emit sends an arbitrary event
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// TeleportStateEvent is published on every orchestrator transition
type TeleportStateEvent struct {
	TeleportID string `json:"teleportId,omitempty"`
	SessionID  string `json:"sessionId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Error      string `json:"error,omitempty"`
}

func (h *EventHub) EmitTeleportState(event TeleportStateEvent) {
	h.emit(TeleportState, event)
}

// ProcessChangedEvent reports a command started or finished in a sandbox
type ProcessChangedEvent struct {
	Key      string `json:"key"`
	PID      int    `json:"pid"`
	Cwd      string `json:"cwd"`
	State    string `json:"state"` // "running", "stopped"
	ExitCode *int   `json:"exitCode,omitempty"`
}

func (h *EventHub) EmitProcessChanged(event ProcessChangedEvent) {
	h.emit(ProcessChanged, event)
}

// PtyOutputEvent carries a chunk of terminal output
type PtyOutputEvent struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

func (h *EventHub) EmitPtyOutput(sessionID string, data string) {
	h.emit(PtyOutput, PtyOutputEvent{SessionID: sessionID, Data: data})
}

// SessionsChangedEvent is emitted when the projects directory changes on disk
type SessionsChangedEvent struct {
	Path string `json:"path"`
}

func (h *EventHub) EmitSessionsChanged(event SessionsChangedEvent) {
	h.emit(SessionsChanged, event)
}

// GitChangedEvent lists the working tree status of a restored directory
type GitChangedEvent struct {
	Path   string            `json:"path"`
	Status map[string]string `json:"status"` // path -> status
}

func (h *EventHub) EmitGitChanged(event GitChangedEvent) {
	h.emit(GitChanged, event)
}
