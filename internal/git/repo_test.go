package git

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/eventhub"
)

// writeFile creates a file (and its parents) below root
func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}

func TestBaseline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/main.go", "package main")
	writeFile(t, dir, "README.md", "# app")

	repo, hash, err := Baseline(dir, "restored state")
	require.NoError(t, err)
	assert.Len(t, hash, 40)
	assert.Equal(t, dir, repo.Path())

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head)

	branch, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.NotEmpty(t, branch)

	status, err := repo.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean)

	changes, err := repo.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestBaseline_EmptyDirectory(t *testing.T) {
	_, hash, err := Baseline(t.TempDir(), "empty")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestBaseline_Twice(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")
	_, first, err := Baseline(dir, "first")
	require.NoError(t, err)

	writeFile(t, dir, "a.txt", "two")
	_, second, err := Baseline(dir, "second")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "same")
	writeFile(t, dir, "edit.txt", "before")
	writeFile(t, dir, "gone.txt", "bye")

	repo, _, err := Baseline(dir, "baseline")
	require.NoError(t, err)

	writeFile(t, dir, "edit.txt", "after")
	writeFile(t, dir, "new.txt", "hello")
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.txt")))

	changes, err := repo.Changes()
	require.NoError(t, err)
	assert.Equal(t, []FileStatus{
		{Path: "edit.txt", Status: "modified"},
		{Path: "gone.txt", Status: "deleted"},
		{Path: "new.txt", Status: "untracked"},
	}, changes)

	status, err := repo.Status()
	require.NoError(t, err)
	assert.False(t, status.IsClean)
	assert.Len(t, status.Untracked, 1)
	assert.Len(t, status.Modified, 2)
}

func TestMapStatusCode(t *testing.T) {
	assert.Equal(t, "added", mapStatusCode('A'))
	assert.Equal(t, "modified", mapStatusCode('M'))
	assert.Equal(t, "unknown", mapStatusCode('Z'))
}

type gitRecorder struct {
	mu     sync.Mutex
	events []eventhub.GitChangedEvent
}

func (r *gitRecorder) EmitGitChanged(event eventhub.GitChangedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *gitRecorder) last() (eventhub.GitChangedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return eventhub.GitChangedEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func TestChangeWatcher(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")
	_, _, err := Baseline(dir, "baseline")
	require.NoError(t, err)

	rec := &gitRecorder{}
	w := NewChangeWatcher(rec, nil)
	w.debounce = 20 * time.Millisecond
	defer w.Close()

	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Watch(dir))

	writeFile(t, dir, "a.txt", "two")

	assert.Eventually(t, func() bool {
		event, ok := rec.last()
		return ok && event.Status["a.txt"] == "modified"
	}, 5*time.Second, 20*time.Millisecond)

	w.Unwatch(dir)
	w.Unwatch(dir)
}

func TestStatusEvent_NotARepository(t *testing.T) {
	event, err := StatusEvent(t.TempDir())
	assert.Error(t, err)
	assert.Empty(t, event.Status)
}
