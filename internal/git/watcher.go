package git

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rewind/internal/eventhub"
	"rewind/internal/watcher"
)

// EventEmitter receives working tree status updates
type EventEmitter interface {
	EmitGitChanged(event eventhub.GitChangedEvent)
}

// ChangeWatcher reports the status of restored working trees as their files change
type ChangeWatcher struct {
	watchers map[string]*watcher.Watcher
	emitter  EventEmitter
	debounce time.Duration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewChangeWatcher creates a ChangeWatcher
func NewChangeWatcher(emitter EventEmitter, logger *slog.Logger) *ChangeWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeWatcher{
		watchers: make(map[string]*watcher.Watcher),
		emitter:  emitter,
		debounce: 300 * time.Millisecond,
		logger:   logger.With("component", "git-watcher"),
	}
}

// Watch starts reporting changes below the repository at workspacePath
func (g *ChangeWatcher) Watch(workspacePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.watchers[workspacePath]; exists {
		return nil
	}

	gitDir := filepath.Join(workspacePath, ".git") + string(filepath.Separator)
	w, err := watcher.New(workspacePath, g.debounce, func(watcher.Event) {
		g.onChange(workspacePath)
	},
		watcher.WithRecursive(),
		watcher.WithLogger(g.logger),
		watcher.WithFilter(func(path string) bool {
			return !strings.HasPrefix(path+string(filepath.Separator), gitDir)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to watch working tree: %w", err)
	}

	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	g.watchers[workspacePath] = w
	return nil
}

// Unwatch stops watching workspacePath
func (g *ChangeWatcher) Unwatch(workspacePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, exists := g.watchers[workspacePath]; exists {
		w.Close()
		delete(g.watchers, workspacePath)
	}
}

// Close stops all watchers
func (g *ChangeWatcher) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.watchers {
		w.Close()
	}
	g.watchers = make(map[string]*watcher.Watcher)
}

func (g *ChangeWatcher) onChange(workspacePath string) {
	event, err := StatusEvent(workspacePath)
	if err != nil {
		g.logger.Warn("status failed", "path", workspacePath, "error", err)
		return
	}
	if g.emitter != nil {
		g.emitter.EmitGitChanged(event)
	}
}

// StatusEvent builds the change event for the repository at workspacePath
func StatusEvent(workspacePath string) (eventhub.GitChangedEvent, error) {
	event := eventhub.GitChangedEvent{
		Path:   workspacePath,
		Status: make(map[string]string),
	}

	repo, err := Open(workspacePath)
	if err != nil {
		return event, err
	}
	changes, err := repo.Changes()
	if err != nil {
		return event, err
	}
	for _, fs := range changes {
		event.Status[fs.Path] = fs.Status
	}
	return event, nil
}
