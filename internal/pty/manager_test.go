// internal/pty/manager_test.go
package pty

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type outputRecorder struct {
	mu   sync.Mutex
	data map[string]string
}

func (r *outputRecorder) EmitPtyOutput(sessionID, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[sessionID] += data
}

func (r *outputRecorder) get(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[id]
}

func TestPtyManager_RunsCommand(t *testing.T) {
	ctx := context.Background()
	rec := &outputRecorder{data: map[string]string{}}
	manager := NewManager(ctx, rec)
	out := &syncBuffer{}

	session, err := manager.CreateSession(Options{
		ID:     "echo",
		Dir:    t.TempDir(),
		Argv:   []string{"/bin/sh", "-c", "echo teleported"},
		Output: out,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", session.ID)
	assert.Equal(t, 24, session.Rows)
	assert.True(t, session.IsStarted())

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(waitCtx, "echo"))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "teleported") && strings.Contains(rec.get("echo"), "teleported")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, manager.CloseSession("echo"))
	assert.Error(t, manager.CloseSession("echo"))
}

func TestPtyManager_WriteAndResize(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(ctx, nil)

	session, err := manager.CreateSession(Options{ID: "shell", Dir: "/tmp", Argv: []string{"/bin/sh"}})
	require.NoError(t, err)
	defer manager.CloseAll()

	require.NoError(t, manager.Write("shell", "echo hello\n"))
	require.NoError(t, manager.Resize("shell", 48, 120))
	assert.Equal(t, 48, session.Rows)
	assert.Equal(t, 120, session.Cols)

	assert.Error(t, manager.Write("missing", "x"))
	assert.Error(t, manager.Resize("missing", 1, 1))
	assert.Error(t, manager.Wait(ctx, "missing"))
}

func TestPtyManager_DuplicateAndCloseAll(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(ctx, nil)

	for _, id := range []string{"session2", "session1"} {
		_, err := manager.CreateSession(Options{ID: id, Dir: "/tmp", Argv: []string{"/bin/sh"}})
		require.NoError(t, err)
	}
	_, err := manager.CreateSession(Options{ID: "session1", Argv: []string{"/bin/sh"}})
	assert.Error(t, err)

	assert.Equal(t, []string{"session1", "session2"}, manager.ListSessions())

	session, ok := manager.GetSession("session1")
	require.True(t, ok)

	manager.CloseAll()
	assert.Empty(t, manager.ListSessions())
	assert.ErrorIs(t, session.Write("x"), io.ErrClosedPipe)
}

func TestPtyManager_StartFailure(t *testing.T) {
	manager := NewManager(context.Background(), nil)
	_, err := manager.CreateSession(Options{ID: "bad", Argv: []string{"/definitely/not/a/binary"}})
	assert.Error(t, err)
	assert.Empty(t, manager.ListSessions())
}

func TestShellArgs(t *testing.T) {
	assert.Equal(t, []string{"-i"}, ShellArgs("/bin/zsh"))
	assert.Equal(t, []string{"-i"}, ShellArgs("/usr/bin/fish"))
	assert.Equal(t, ShellTypeBash, getShellType("/usr/local/bin/bash"))
	assert.Equal(t, ShellTypeSh, getShellType("/bin/dash"))
	assert.NotEmpty(t, DefaultShell())
}

func TestNewSession_DefaultsToShell(t *testing.T) {
	s, err := NewSession(Options{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultShell(), s.Argv[0])
	assert.Equal(t, 80, s.Cols)
}
