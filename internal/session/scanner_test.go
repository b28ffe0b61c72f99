// internal/session/scanner_test.go
package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, claudeDir, project, name string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(claudeDir, "projects", project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func setMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, UntitledSession, Title("", 200))
	assert.Equal(t, UntitledSession, Title(" \n\t ", 200))
	assert.Equal(t, "fix the build now", Title("  fix   the\nbuild\t now ", 200))

	long := strings.Repeat("é", 250)
	got := Title(long, 200)
	assert.Equal(t, 200, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))

	exact := strings.Repeat("a", 200)
	assert.Equal(t, exact, Title(exact, 200))
	assert.Equal(t, "abcd...", Title("abcdefghij", 7))
}

func TestScanner_Sessions(t *testing.T) {
	claudeDir := t.TempDir()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	older := writeSession(t, claudeDir, "-home-u-app", "s-old.jsonl",
		`{"type":"user","uuid":"u1","sessionId":"s-old","timestamp":"2024-05-01T10:00:00Z","message":{"content":"first   question"}}`,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2024-05-01T10:00:05Z","message":{"content":[{"type":"text","text":"answer"}]}}`,
		`{"type":"file-history-snapshot","messageId":"a1","snapshot":{}}`,
		`{"type":"file-history-snapshot","messageId":"a1","snapshot":{},"isSnapshotUpdate":true}`,
	)
	newer := writeSession(t, claudeDir, "-home-u-app", "s-new.jsonl",
		`not json`,
		`{"type":"user","uuid":"u1","sessionId":"s-new","timestamp":"2024-05-02T10:00:00Z","message":{"content":[{"type":"tool_result","tool_use_id":"x","content":"r"}]}}`,
		`{"type":"user","uuid":"u2","parentUuid":"u1","message":{"content":[{"type":"image"},{"type":"text","text":"list blocks title"}]}}`,
	)
	writeSession(t, claudeDir, "-home-u-app", "empty.jsonl",
		`{"type":"file-history-snapshot","messageId":"x","snapshot":{}}`,
	)
	agent := writeSession(t, claudeDir, "-home-u-app", "agent-1234.jsonl",
		`{"type":"user","uuid":"g1","sessionId":"s-old","timestamp":"2024-05-01T10:01:00Z","message":{"content":"sub task"}}`,
	)
	stray := writeSession(t, claudeDir, "-home-u-app", "agent-stray.jsonl",
		`{"type":"summary","leafUuid":"z","summary":"s"}`,
	)
	other := writeSession(t, claudeDir, "-srv-api", "s-api.jsonl",
		`{"type":"user","uuid":"u1","message":{"content":""}}`,
	)
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, "projects", "-home-u-app", "notes.txt"), []byte("x"), 0644))

	setMtime(t, older, base)
	setMtime(t, newer, base.Add(time.Hour))
	setMtime(t, agent, base.Add(2*time.Hour))
	setMtime(t, stray, base.Add(3*time.Hour))
	setMtime(t, other, base.Add(-time.Hour))

	sc := NewScanner(claudeDir, Options{Workers: 2})
	ctx := context.Background()

	projects, err := sc.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "-home-u-app", projects[0].ID)
	assert.Equal(t, "/home/u/app", projects[0].Path)
	assert.Equal(t, "-srv-api", projects[1].ID)
	assert.True(t, projects[0].LastActivity().Equal(base.Add(3*time.Hour)))

	sessions, err := sc.Sessions(ctx, false)
	require.NoError(t, err)
	var got []string
	for _, s := range sessions {
		got = append(got, s.ID)
	}
	assert.Equal(t, []string{"s-new", "s-old", "s-api"}, got)

	all, err := sc.Sessions(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	old, err := sc.Find(ctx, "s-old")
	require.NoError(t, err)
	assert.Equal(t, "first question", old.Title)
	assert.Equal(t, 2, old.MessageCount)
	assert.Equal(t, 2, old.CheckpointCount)
	assert.True(t, old.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, old.UpdatedAt.Equal(base))
	assert.Equal(t, []string{"agent-1234"}, old.AgentIDs)

	fresh, err := sc.Find(ctx, "s-new")
	require.NoError(t, err)
	assert.Equal(t, "list blocks title", fresh.Title)

	api, err := sc.Find(ctx, "s-api")
	require.NoError(t, err)
	assert.Equal(t, UntitledSession, api.Title)
	// no timestamp falls back to the file time
	assert.True(t, api.CreatedAt.Equal(base.Add(-time.Hour)))

	ag, err := sc.Find(ctx, "agent-12")
	require.NoError(t, err)
	assert.True(t, ag.IsAgent)
	assert.Equal(t, "s-old", ag.ParentSessionID)

	st, err := sc.Find(ctx, "agent-stray")
	require.NoError(t, err)
	assert.Empty(t, st.ParentSessionID)

	agents, err := sc.AgentSessions(ctx, "s-old")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1234", agents[0].ID)

	_, err = sc.Find(ctx, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = sc.Find(ctx, "s-")
	assert.ErrorIs(t, err, ErrAmbiguous)
	_, err = sc.Find(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanner_SubagentDirectory(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "main.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2024-05-01T10:00:00Z","message":{"content":"hi"}}`,
	)
	subDir := filepath.Join(claudeDir, "projects", "-p", "main", "subagents")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "agent-x.jsonl"),
		[]byte(`{"type":"assistant","uuid":"a1","timestamp":"2024-05-01T10:00:01Z","message":{"content":"x"}}`+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "other.jsonl"),
		[]byte(`{"type":"assistant","uuid":"a1","message":{"content":"x"}}`+"\n"), 0644))

	sc := NewScanner(claudeDir, Options{})
	agents, err := sc.AgentSessions(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-x", agents[0].ID)

	all, err := sc.Sessions(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScanner_MissingProjectsDir(t *testing.T) {
	sc := NewScanner(filepath.Join(t.TempDir(), "nope"), Options{})
	projects, err := sc.Projects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestScanner_CacheInvalidate(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "a.jsonl", `{"type":"user","uuid":"u1","message":{"content":"a"}}`)

	sc := NewScanner(claudeDir, Options{})
	ctx := context.Background()
	sessions, err := sc.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	writeSession(t, claudeDir, "-p", "b.jsonl", `{"type":"user","uuid":"u1","message":{"content":"b"}}`)
	sessions, err = sc.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "cached result is served until invalidated")

	sc.Invalidate()
	sessions, err = sc.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestScanner_CanceledContext(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "a.jsonl", `{"type":"user","uuid":"u1","message":{"content":"a"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScanner(claudeDir, Options{}).Projects(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_LoadTree(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "s1.jsonl",
		`{"type":"user","uuid":"u1","parentUuid":null,"timestamp":"2024-05-01T10:00:00Z","message":{"content":"a"}}`,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2024-05-01T10:00:01Z","message":{"content":[{"type":"text","text":"b"}]}}`,
	)

	sc := NewScanner(claudeDir, Options{})
	sess, err := sc.Find(context.Background(), "s1")
	require.NoError(t, err)

	tree, _, err := sc.LoadTree(sess)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
	assert.Len(t, tree.MainThread(), 2)
}

func TestScanner_OversizedRecordKeepsSession(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "s1.jsonl",
		`{"type":"user","uuid":"u1","parentUuid":null,"sessionId":"s1","timestamp":"2024-05-01T10:00:00Z","message":{"content":"first"}}`,
		`{"type":"user","uuid":"big","parentUuid":"u1","message":{"content":"`+strings.Repeat("x", 65*1024*1024)+`"}}`,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2024-05-01T10:00:01Z","message":{"content":[{"type":"text","text":"b"}]}}`,
	)

	sc := NewScanner(claudeDir, Options{})
	sess, err := sc.Find(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", sess.Title)
	assert.Equal(t, 2, sess.MessageCount)

	tree, _, err := sc.LoadTree(sess)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
	assert.Len(t, tree.MainThread(), 2)
}

func TestScanner_WatchInvalidates(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-p", "a.jsonl", `{"type":"user","uuid":"u1","message":{"content":"a"}}`)

	sc := NewScanner(claudeDir, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := sc.Projects(ctx)
	require.NoError(t, err)

	changed := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- sc.Watch(ctx, 20*time.Millisecond, func(p string) { changed <- p })
	}()
	time.Sleep(100 * time.Millisecond)

	target := writeSession(t, claudeDir, "-p", "b.jsonl", `{"type":"user","uuid":"u1","message":{"content":"b"}}`)

	select {
	case p := <-changed:
		assert.Equal(t, target, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	sessions, err := sc.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	cancel()
	assert.NoError(t, <-done)
}
