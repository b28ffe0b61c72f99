package claude

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords_SkipsMalformedLines(t *testing.T) {
	content := `{"type":"user","uuid":"u1","parentUuid":null,"message":{"role":"user","content":"hello"},"timestamp":"2024-01-01T00:00:00Z"}
not json at all

{"type":"assistant","uuid":"a1","parentUuid":"u1","message":{"content":[{"type":"text","text":"hi"}]}}
`
	var got []*Record
	var lines []int
	err := ReadRecords(strings.NewReader(content), func(lineNum int, rec *Record) {
		got = append(got, rec)
		lines = append(lines, lineNum)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, []int{1, 4}, lines)
	assert.Nil(t, got[0].ParentUUID)
	require.NotNil(t, got[1].ParentUUID)
	assert.Equal(t, "u1", *got[1].ParentUUID)
}

func TestMessageBody_Blocks(t *testing.T) {
	var recs []*Record
	content := `{"type":"user","message":{"content":"plain text"}}
{"type":"assistant","message":{"content":["loose",{"type":"tool_use","id":"t1","name":"Write","input":{"file_path":"/a.go"}},42]}}
`
	require.NoError(t, ReadRecords(strings.NewReader(content), func(_ int, rec *Record) {
		recs = append(recs, rec)
	}))
	require.Len(t, recs, 2)

	text, blocks := recs[0].Message.Blocks()
	assert.Equal(t, "plain text", text)
	assert.Empty(t, blocks)

	text, blocks = recs[1].Message.Blocks()
	assert.Empty(t, text)
	require.Len(t, blocks, 2)
	assert.Equal(t, "loose", blocks[0].Text)
	assert.Equal(t, "Write", blocks[1].Name)
	assert.Equal(t, "/a.go", blocks[1].Input["file_path"])

	var nilBody *MessageBody
	text, blocks = nilBody.Blocks()
	assert.Empty(t, text)
	assert.Nil(t, blocks)
}

func TestForEachLine_Missing(t *testing.T) {
	err := ForEachLine(filepath.Join(t.TempDir(), "missing.jsonl"), func([]byte) {})
	assert.Error(t, err)
}

func TestForEachLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("a\n\nb\n"), 0644))

	var lines []string
	require.NoError(t, ForEachLine(path, func(line []byte) {
		lines = append(lines, string(line))
	}))
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestReadLines_SkipsOversizedLines(t *testing.T) {
	input := "short\r\n" + strings.Repeat("x", 20) + "\n12345678\n\nlast"

	type line struct {
		num  int
		text string
	}
	var got []line
	require.NoError(t, readLines(strings.NewReader(input), 8, func(n int, b []byte) {
		got = append(got, line{n, string(b)})
	}))
	assert.Equal(t, []line{{1, "short"}, {3, "12345678"}, {4, ""}, {5, "last"}}, got)
}

func TestReadRecords_OversizedLineDoesNotStopFile(t *testing.T) {
	huge := `{"type":"user","uuid":"big","message":{"content":"` + strings.Repeat("a", maxLineSize) + `"}}`
	input := strings.Join([]string{
		`{"type":"user","uuid":"u1"}`,
		huge,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1"}`,
	}, "\n")

	var uuids []string
	var lines []int
	require.NoError(t, ReadRecords(strings.NewReader(input), func(n int, rec *Record) {
		uuids = append(uuids, rec.UUID)
		lines = append(lines, n)
	}))
	assert.Equal(t, []string{"u1", "a1"}, uuids)
	assert.Equal(t, []int{1, 3}, lines)
}

func TestProjectPathEscaping(t *testing.T) {
	escaped := EscapeProjectPath("/home/tato/project")
	assert.Equal(t, "-home-tato-project", escaped)
	assert.Equal(t, "/home/tato/project", UnescapeProjectPath(escaped))
	assert.Equal(t, "rel/dir", UnescapeProjectPath("rel-dir"))
}

func TestSessionFileHelpers(t *testing.T) {
	assert.Equal(t, "agent-1234", SessionIDFromFile("/x/agent-1234.jsonl"))
	assert.True(t, IsAgentFile("/x/agent-1234.jsonl"))
	assert.False(t, IsAgentFile("/x/1234.jsonl"))
	assert.Equal(t, "/c/file-history", FileHistoryDir("/c"))
}
