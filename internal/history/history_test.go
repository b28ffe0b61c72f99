package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/claude"
)

func ts(minute int) string {
	return time.Date(2024, 5, 1, 10, minute, 0, 0, time.UTC).Format(time.RFC3339)
}

func userLine(id, parent string, minute int, text string) string {
	p := "null"
	if parent != "" {
		p = fmt.Sprintf("%q", parent)
	}
	return fmt.Sprintf(`{"type":"user","uuid":%q,"parentUuid":%s,"timestamp":%q,"sessionId":"s1","message":{"role":"user","content":%q}}`,
		id, p, ts(minute), text)
}

func assistantLine(id, parent string, minute int, sidechain bool) string {
	return fmt.Sprintf(`{"type":"assistant","uuid":%q,"parentUuid":%q,"timestamp":%q,"isSidechain":%t,"message":{"content":[{"type":"text","text":"ok"}]}}`,
		id, parent, ts(minute), sidechain)
}

func summaryLine(leaf string, minute int) string {
	return fmt.Sprintf(`{"type":"summary","leafUuid":%q,"summary":"compacted","timestamp":%q}`, leaf, ts(minute))
}

func parse(t *testing.T, lines ...string) (*Tree, LinkReport) {
	t.Helper()
	tree, report, err := ParseReader(strings.NewReader(strings.Join(lines, "\n")), nil)
	require.NoError(t, err)
	return tree, report
}

func ids(events []*Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

// assertForest checks that every parent exists and every event is reachable
// from exactly one root.
func assertForest(t *testing.T, tree *Tree) {
	t.Helper()
	for _, ev := range tree.Events() {
		if ev.ParentID != "" {
			assert.True(t, tree.Has(ev.ParentID), "dangling parent %s on %s", ev.ParentID, ev.ID)
		}
	}

	reached := make(map[string]int)
	for _, root := range tree.Roots() {
		stack := []*Event{root}
		for len(stack) > 0 {
			ev := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			reached[ev.ID]++
			stack = append(stack, tree.Children(ev.ID)...)
		}
	}
	assert.Len(t, reached, tree.Len())
	for id, n := range reached {
		assert.Equal(t, 1, n, "event %s reached %d times", id, n)
	}
}

func TestParseRecord_SyntheticIDs(t *testing.T) {
	tree, _ := parse(t,
		userLine("u1", "", 0, "hi"),
		summaryLine("u1", 1),
		`{"type":"file-history-snapshot","messageId":"u1","snapshot":{"messageId":"u1","trackedFileBackups":{"/a.go":{"backupFileName":"abc@v1","version":1}}}}`,
	)

	sum, ok := tree.Get("summary:u1")
	require.True(t, ok)
	assert.Equal(t, "u1", sum.ParentID)
	assert.Equal(t, KindSummary, sum.Kind)
	assert.Equal(t, "compacted", sum.Summary)

	snap, ok := tree.Get("snapshot:u1")
	require.True(t, ok)
	assert.Equal(t, "u1", snap.ParentID)
	require.NotNil(t, snap.Snapshot)
	assert.Equal(t, "abc@v1", snap.Snapshot.TrackedFiles["/a.go"].BackupFileName)
}

func TestParseRecord_DropsUnusable(t *testing.T) {
	assert.Nil(t, ParseRecord(&claude.Record{Type: "user"}))
	assert.Nil(t, ParseRecord(&claude.Record{Type: "summary"}))
	assert.Nil(t, ParseRecord(&claude.Record{Type: "system", UUID: "x"}))
	assert.Nil(t, ParseRecord(nil))
}

func TestParseRecord_Payloads(t *testing.T) {
	tree, _ := parse(t,
		`{"type":"assistant","uuid":"a1","parentUuid":null,"timestamp":"2024-05-01T10:00:00.123Z","requestId":"r1","message":{"model":"m","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"doing"},{"type":"tool_use","id":"t1","name":"Write","input":{"file_path":"/p/a.go","content":"x"}}]}}`,
		`{"type":"user","uuid":"u1","parentUuid":"a1","timestamp":"2024-05-01T10:00:01","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"done"}]}]}}`,
	)

	a1, ok := tree.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "hmm", a1.Thinking)
	assert.Equal(t, "doing", a1.Text)
	assert.Equal(t, "m", a1.Model)
	assert.Equal(t, "r1", a1.RequestID)
	require.Len(t, a1.ToolUses, 1)
	assert.Equal(t, []string{"/p/a.go"}, a1.FilePaths())
	assert.Equal(t, []string{"/p/a.go"}, a1.WrittenPaths())
	assert.Equal(t, 123*time.Millisecond, time.Duration(a1.Timestamp.Nanosecond()))

	u1, ok := tree.Get("u1")
	require.True(t, ok)
	require.NotNil(t, u1.ToolResult)
	assert.Equal(t, "done", u1.ToolResult.Content)
	assert.Equal(t, time.UTC, u1.Timestamp.Location())
	assert.False(t, u1.TimestampInferred)
}

func TestParseRecord_MissingTimestampIsFlagged(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	tree, report := parse(t, `{"type":"user","uuid":"u1","parentUuid":null,"timestamp":"yesterday"}`)
	u1, ok := tree.Get("u1")
	require.True(t, ok)
	assert.True(t, u1.TimestampInferred)
	assert.Equal(t, fixed, u1.Timestamp)
	assert.Equal(t, 1, report.InferredTimestamps)
}

func TestBuild_WellFormedChain(t *testing.T) {
	tree, report := parse(t,
		userLine("e1", "", 0, "start"),
		assistantLine("e2", "e1", 1, false),
		userLine("e3", "e2", 2, "next"),
	)

	assert.Equal(t, []string{"e1"}, ids(tree.Roots()))
	assert.Empty(t, report.Linked)
	assert.Empty(t, report.RootPromoted)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(tree.MainThread()))
	assertForest(t, tree)
}

func TestBuild_CompactionSplicesOrphans(t *testing.T) {
	// e3 was compacted away; its summary and the continuation both point at it
	tree, report := parse(t,
		summaryLine("e3", 0),
		userLine("n1", "e3", 5, "continue"),
		assistantLine("n2", "e3", 6, false),
	)

	assert.Equal(t, []string{"summary:e3"}, ids(tree.Roots()))
	assert.ElementsMatch(t, []string{"n1", "n2"}, ids(tree.Children("summary:e3")))
	assert.Equal(t, "summary:e3", report.Linked["n1"])
	assert.Equal(t, "summary:e3", report.Linked["n2"])
	assert.Equal(t, []string{"summary:e3"}, report.RootPromoted)
	assertForest(t, tree)
}

func TestBuild_OrphanUsesLatestEarlierSummary(t *testing.T) {
	tree, _ := parse(t,
		userLine("r", "", 0, "root"),
		summaryLine("r", 1),
		assistantLine("x", "r", 2, false),
		summaryLine("x", 10),
		userLine("o1", "gone", 5, "after first summary"),
		userLine("o2", "gone", 20, "after second summary"),
	)

	o1, _ := tree.Get("o1")
	o2, _ := tree.Get("o2")
	assert.Equal(t, "summary:r", o1.ParentID)
	assert.Equal(t, "summary:x", o2.ParentID)
	assertForest(t, tree)
}

func TestBuild_OrphanBeforeAnySummaryBecomesRoot(t *testing.T) {
	tree, report := parse(t,
		userLine("r", "", 5, "root"),
		summaryLine("r", 5),
		userLine("early", "gone", 1, "too early"),
	)

	early, _ := tree.Get("early")
	assert.True(t, early.IsRoot())
	assert.Contains(t, report.RootPromoted, "early")
	assert.Equal(t, []string{"r", "early"}, ids(tree.Roots()))
	assertForest(t, tree)
}

func TestBuild_NoSummariesKeepsForestValid(t *testing.T) {
	tree, report := parse(t,
		userLine("a", "missing-1", 0, "a"),
		userLine("b", "missing-2", 1, "b"),
	)
	assert.Len(t, tree.Roots(), 2)
	assert.Equal(t, 2, report.Degraded())
	assertForest(t, tree)
}

func TestBuild_OrphanSummaryDoesNotAnchorItsAncestor(t *testing.T) {
	// o is an orphan; summary:o hangs below it. Attaching o to summary:o
	// would close a loop.
	tree, _ := parse(t,
		userLine("o", "gone", 5, "orphan"),
		summaryLine("o", 1),
	)
	o, _ := tree.Get("o")
	assert.True(t, o.IsRoot())
	assertForest(t, tree)
}

func TestBuild_BreaksExplicitCycles(t *testing.T) {
	tree, report := parse(t,
		userLine("root", "", 0, "root"),
		userLine("c1", "c2", 1, "c1"),
		userLine("c2", "c1", 2, "c2"),
	)
	assert.Equal(t, []string{"c1"}, report.CyclesBroken)
	assert.Equal(t, []string{"root", "c1"}, ids(tree.Roots()))
	assert.Equal(t, []string{"c1", "c2"}, ids(tree.MainThreadFrom("c1")))
	assertForest(t, tree)
}

func TestBuild_SnapshotTakesParentTimestamp(t *testing.T) {
	tree, _ := parse(t,
		userLine("u1", "", 3, "hi"),
		`{"type":"file-history-snapshot","messageId":"u1","timestamp":"2024-05-01T12:00:00Z","snapshot":{"messageId":"u1","trackedFileBackups":{}}}`,
	)
	u1, _ := tree.Get("u1")
	snap, _ := tree.Get("snapshot:u1")
	assert.True(t, snap.Timestamp.Equal(u1.Timestamp))
}

func TestBuild_DuplicateIDReplacesEvent(t *testing.T) {
	tree, _ := parse(t,
		userLine("u1", "", 0, "hi"),
		`{"type":"file-history-snapshot","messageId":"u1","snapshot":{"messageId":"u1","trackedFileBackups":{"/a":{"backupFileName":"h@v1","version":1}}}}`,
		`{"type":"file-history-snapshot","messageId":"u1","isSnapshotUpdate":true,"snapshot":{"messageId":"u1","trackedFileBackups":{"/a":{"backupFileName":"h@v2","version":2}}}}`,
	)

	assert.Equal(t, 2, tree.Len())
	snap, _ := tree.Get("snapshot:u1")
	assert.True(t, snap.Snapshot.IsUpdate)
	assert.Equal(t, 2, snap.Snapshot.TrackedFiles["/a"].Version)
	assert.Len(t, tree.Children("u1"), 1)
	assertForest(t, tree)
}

func TestMainThread_PrefersNonSidechainConversation(t *testing.T) {
	tree, _ := parse(t,
		userLine("s", "", 0, "side root"),
		`{"type":"user","uuid":"side","parentUuid":null,"isSidechain":true,"timestamp":"`+ts(0)+`"}`,
		userLine("root", "", 0, "main root"),
		assistantLine("side-child", "root", 1, true),
		`{"type":"file-history-snapshot","messageId":"root","snapshot":{}}`,
		assistantLine("main-child", "root", 2, false),
		userLine("leaf", "main-child", 3, "done"),
	)

	// s is the first non-sidechain root
	assert.Equal(t, []string{"s"}, ids(tree.MainThread()))
	assert.Equal(t, []string{"root", "main-child", "leaf"}, ids(tree.MainThreadFrom("root")))
}

func TestMainThread_FallsBackToSidechainRoot(t *testing.T) {
	tree, _ := parse(t,
		`{"type":"user","uuid":"a","parentUuid":null,"isSidechain":true,"timestamp":"`+ts(0)+`"}`,
		assistantLine("b", "a", 1, true),
	)
	assert.Equal(t, []string{"a", "b"}, ids(tree.MainThread()))
}

func TestMainThread_SnapshotOnlyChild(t *testing.T) {
	tree, _ := parse(t,
		userLine("u1", "", 0, "hi"),
		`{"type":"file-history-snapshot","messageId":"u1","snapshot":{}}`,
	)
	assert.Equal(t, []string{"u1", "snapshot:u1"}, ids(tree.MainThread()))
}

func TestMainThread_EmptyTree(t *testing.T) {
	tree, _ := parse(t)
	assert.Nil(t, tree.MainThread())
	assert.Nil(t, tree.MainThreadFrom("nope"))
}

func TestLinearPathAndLeaves(t *testing.T) {
	tree, _ := parse(t,
		userLine("e1", "", 0, "start"),
		assistantLine("e2", "e1", 1, false),
		assistantLine("branch", "e1", 2, false),
		userLine("e3", "e2", 3, "next"),
	)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(tree.LinearPath("e3")))
	assert.Equal(t, []string{"branch", "e3"}, ids(tree.Leaves()))
	assert.Empty(t, tree.LinearPath("missing"))
}

func TestParseFile_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	content := strings.Join([]string{
		summaryLine("e3", 0),
		userLine("n1", "e3", 5, "continue"),
		"garbage line",
		assistantLine("n2", "n1", 6, false),
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	first, _, err := ParseFile(path, nil)
	require.NoError(t, err)
	second, _, err := ParseFile(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ids(first.Events()), ids(second.Events()))
	assert.Equal(t, ids(first.MainThread()), ids(second.MainThread()))
	assertForest(t, first)

	_, _, err = ParseFile(filepath.Join(t.TempDir(), "missing.jsonl"), nil)
	assert.Error(t, err)
}

func TestParseFile_SkipsOversizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	huge := userLine("big", "u1", 1, strings.Repeat("x", 65*1024*1024))
	content := strings.Join([]string{
		userLine("u1", "", 0, "hello"),
		huge,
		assistantLine("a1", "u1", 2, false),
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tree, _, err := ParseFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
	assert.False(t, tree.Has("big"))
	assert.Equal(t, []string{"u1", "a1"}, ids(tree.MainThread()))
}

func TestChronological(t *testing.T) {
	tree, _ := parse(t,
		userLine("late", "", 9, "late"),
		userLine("early", "", 1, "early"),
		userLine("tie", "", 1, "tie"),
	)
	assert.Equal(t, []string{"early", "tie", "late"}, ids(tree.Chronological()))
}

func TestBuild_CompactionAfterFiveEvents(t *testing.T) {
	// e3 is no longer in the log; the summary covering it came later
	tree, report := parse(t,
		userLine("e1", "", 0, "one"),
		assistantLine("e2", "e1", 1, false),
		assistantLine("e4", "e2", 3, false),
		userLine("e5", "e4", 4, "five"),
		summaryLine("e3", 5),
		userLine("n1", "e3", 6, "after"),
		assistantLine("n2", "e3", 7, false),
	)

	assert.Equal(t, "summary:e3", report.Linked["n1"])
	assert.Equal(t, "summary:e3", report.Linked["n2"])
	assert.Equal(t, []string{"n1", "n2"}, ids(tree.Children("summary:e3")))
	for _, id := range []string{"n1", "n2"} {
		ev, _ := tree.Get(id)
		assert.False(t, ev.IsRoot())
	}
	assertForest(t, tree)
}

func TestBuild_SummaryTiesPreferLaterInsertion(t *testing.T) {
	tree, _ := parse(t,
		userLine("r", "", 0, "root"),
		summaryLine("r", 2),
		assistantLine("x", "r", 1, false),
		summaryLine("x", 2),
		userLine("o", "gone", 3, "orphan"),
	)
	o, _ := tree.Get("o")
	assert.Equal(t, "summary:x", o.ParentID)
}
