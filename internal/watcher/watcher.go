// Package watcher reports debounced file system changes below a directory.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// ErrClosed is returned by operations on a closed watcher
var ErrClosed = errors.New("watcher is closed")

// Event represents a file system event
type Event struct {
	Path string
	Type EventType
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger used for watch errors
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFilter drops events whose path does not satisfy keep. Directory
// creation is still tracked in recursive mode.
func WithFilter(keep func(path string) bool) Option {
	return func(w *Watcher) {
		w.filter = keep
	}
}

// WithRecursive watches every directory below the root, including ones
// created after Start.
func WithRecursive() Option {
	return func(w *Watcher) {
		w.recursive = true
	}
}

// Watcher watches a directory for file system events with debouncing
type Watcher struct {
	path       string
	debounce   time.Duration
	callback   func(Event)
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	filter     func(string) bool
	recursive  bool
	done       chan struct{}
	started    bool
	closed     bool
	mu         sync.Mutex
	debouncer  map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a new Watcher for the given path
func New(path string, debounce time.Duration, callback func(Event), opts ...Option) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:      path,
		debounce:  debounce,
		callback:  callback,
		watcher:   watcher,
		logger:    slog.Default(),
		done:      make(chan struct{}),
		debouncer: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher")

	if w.recursive {
		err = w.addTree(path)
	} else {
		err = watcher.Add(path)
	}
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", path, err)
	}

	return w, nil
}

// addTree registers root and every directory below it
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// Directories removed mid-walk are skipped
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(p)
	})
}

// AddPath adds an additional path to watch
func (w *Watcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	return w.watcher.Add(path)
}

// WatchList returns the directories currently registered
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if w.started {
		close(w.done)
	}

	// Cancel all pending debounce timers
	w.debounceMu.Lock()
	for _, timer := range w.debouncer {
		timer.Stop()
	}
	w.debouncer = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", w.path, "error", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent processes a fsnotify event with debouncing
func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType EventType

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		// Chmod and unknown ops are ignored
		return
	}

	if w.recursive && eventType == EventCreate {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	if w.filter != nil && !w.filter(event.Name) {
		return
	}

	w.debounceEvent(Event{Path: event.Name, Type: eventType})
}

// debounceEvent debounces events for the same file
func (w *Watcher) debounceEvent(e Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	// Cancel existing timer for this path if any
	if timer, exists := w.debouncer[e.Path]; exists {
		timer.Stop()
	}

	w.debouncer[e.Path] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debouncer, e.Path)
		w.debounceMu.Unlock()

		w.callback(e)
	})
}
