// internal/checkpoint/storage_test.go
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckpoint(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestPathHash(t *testing.T) {
	sum := sha256.Sum256([]byte("/src/a.py"))
	want := hex.EncodeToString(sum[:])[:16]

	assert.Equal(t, want, PathHash("/src/a.py"))
	assert.Equal(t, PathHash("/src/a.py"), PathHash("/src/a.py"))
	assert.Len(t, PathHash(""), HashLength)
	assert.NotEqual(t, PathHash("/src/a.py"), PathHash("/src/a.py/"))

	_, _, ok := ParseName(FileName(PathHash("/src/a.py"), 3))
	assert.True(t, ok)
}

func TestParseName(t *testing.T) {
	hash, version, ok := ParseName("0123456789abcdef@v12")
	require.True(t, ok)
	assert.Equal(t, "0123456789abcdef", hash)
	assert.Equal(t, 12, version)

	for _, bad := range []string{
		"0123456789ABCDEF@v1",
		"0123456789abcde@v1",
		"0123456789abcdef0@v1",
		"0123456789abcdef@v",
		"0123456789abcdef@1",
		"0123456789abcdef@v1.bak",
		"notes.txt",
	} {
		_, _, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}

func TestStore_Index(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "s1")
	hashA := PathHash("/src/a.py")
	hashB := PathHash("/src/b.py")

	writeCheckpoint(t, dir, FileName(hashA, 2), "a2")
	writeCheckpoint(t, dir, FileName(hashA, 1), "a1")
	writeCheckpoint(t, dir, FileName(hashA, 5), "a5")
	writeCheckpoint(t, dir, FileName(hashB, 1), "b1")
	writeCheckpoint(t, dir, "README", "junk")
	require.NoError(t, os.Mkdir(filepath.Join(dir, FileName(PathHash("/dir"), 1)), 0755))

	store := NewStore(base)
	idx, err := store.Index("s1")
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 4, idx.Count())

	var versions []int
	for _, cp := range idx.Versions(hashA) {
		versions = append(versions, cp.Version)
	}
	assert.Equal(t, []int{1, 2, 5}, versions)

	latest, ok := idx.Latest(hashA)
	require.True(t, ok)
	assert.Equal(t, 5, latest.Version)
	assert.Equal(t, "s1", latest.SessionID)

	data, err := store.Read(latest)
	require.NoError(t, err)
	assert.Equal(t, "a5", string(data))

	_, ok = idx.Latest("ffffffffffffffff")
	assert.False(t, ok)
}

func TestStore_IndexMissingSession(t *testing.T) {
	store := NewStore(t.TempDir())
	idx, err := store.Index("nope")
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
	assert.Empty(t, idx.Hashes())
}

func TestStore_IndexUnreadable(t *testing.T) {
	base := t.TempDir()
	// a file where the session directory should be
	require.NoError(t, os.WriteFile(filepath.Join(base, "s1"), []byte("x"), 0644))

	_, err := NewStore(base).Index("s1")
	assert.Error(t, err)
}

func TestStore_ReadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Read(FileCheckpoint{PathHash: "0123456789abcdef", Version: 1, FilePath: "/nonexistent/x"})
	assert.Error(t, err)
}

func TestStore_Sessions(t *testing.T) {
	base := t.TempDir()
	writeCheckpoint(t, filepath.Join(base, "s1"), FileName(PathHash("/a"), 1), "a")
	writeCheckpoint(t, filepath.Join(base, "s2"), FileName(PathHash("/b"), 1), "b")
	require.NoError(t, os.WriteFile(filepath.Join(base, "stray"), nil, 0644))

	ids, err := NewStore(base).Sessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	ids, err = NewStore(filepath.Join(base, "missing")).Sessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewStoreForClaudeDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/c", "file-history"), NewStoreForClaudeDir("/c").BaseDir())
}
