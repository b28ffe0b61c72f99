// internal/checkpoint/resolver.go
package checkpoint

import (
	"path/filepath"
	"sort"
	"sync"

	"rewind/internal/history"
)

// BuildPathMapping replays a session chronologically and maps the hash of
// every referenced path to the first path that produced it. Snapshot backups
// contribute their tracked paths after the tool references of the same event.
func BuildPathMapping(tree *history.Tree) PathMapping {
	mapping := make(PathMapping)
	if tree == nil {
		return mapping
	}

	add := func(p string) {
		if p == "" {
			return
		}
		h := PathHash(p)
		if _, seen := mapping[h]; !seen {
			mapping[h] = p
		}
	}

	for _, ev := range tree.Chronological() {
		for _, p := range ev.FilePaths() {
			add(p)
		}
		for _, p := range snapshotPaths(ev) {
			add(p)
		}
	}
	return mapping
}

// snapshotPaths returns the tracked paths of a snapshot event in a stable
// order. Relative keys are taken against the event's working directory.
func snapshotPaths(ev *history.Event) []string {
	if ev.Snapshot == nil || len(ev.Snapshot.TrackedFiles) == 0 {
		return nil
	}

	paths := make([]string, 0, len(ev.Snapshot.TrackedFiles))
	for p := range ev.Snapshot.TrackedFiles {
		if !filepath.IsAbs(p) && ev.Cwd != "" {
			p = filepath.Join(ev.Cwd, p)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolver caches path mappings per session. A cached mapping is not
// refreshed when the session grows; call Invalidate after a rescan.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]PathMapping
}

// NewResolver creates a resolver with an empty cache
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]PathMapping)}
}

// Mapping returns the cached mapping of a session, building it from tree on
// first use.
func (r *Resolver) Mapping(sessionID string, tree *history.Tree) PathMapping {
	r.mu.RLock()
	m, ok := r.cache[sessionID]
	r.mu.RUnlock()
	if ok {
		return m
	}

	m = BuildPathMapping(tree)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[sessionID]; ok {
		return existing
	}
	r.cache[sessionID] = m
	return m
}

// Invalidate drops the cached mapping of a session
func (r *Resolver) Invalidate(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, sessionID)
}

// Reset drops every cached mapping
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]PathMapping)
}

// Cached reports whether a mapping is cached for the session
func (r *Resolver) Cached(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[sessionID]
	return ok
}
