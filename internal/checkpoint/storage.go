// internal/checkpoint/storage.go
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"rewind/internal/claude"
)

// HashLength is the number of hex characters of a path hash
const HashLength = 16

// checkpointName is the strict grammar of a checkpoint file name
var checkpointName = regexp.MustCompile(`^([0-9a-f]{16})@v([0-9]+)$`)

// PathHash returns the identity of a file path in the checkpoint store: the
// first 16 hex characters of the SHA-256 of the literal path string.
func PathHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// FileName formats a checkpoint file name
func FileName(hash string, version int) string {
	return fmt.Sprintf("%s@v%d", hash, version)
}

// ParseName splits a checkpoint file name into hash and version
func ParseName(name string) (string, int, bool) {
	m := checkpointName.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	version, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], version, true
}

// Store reads the content-addressed checkpoint store written by Claude Code
// under <claude>/file-history/<session>/.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at the file-history directory
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// NewStoreForClaudeDir creates a store for a Claude configuration directory
func NewStoreForClaudeDir(claudeDir string) *Store {
	return NewStore(claude.FileHistoryDir(claudeDir))
}

// BaseDir returns the file-history root
func (s *Store) BaseDir() string {
	return s.baseDir
}

// sessionDir returns the checkpoint directory of a session
func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Index lists a session's checkpoints. Entries that do not match the name
// grammar are ignored; a missing session directory yields an empty index.
func (s *Store) Index(sessionID string) (*Index, error) {
	idx := NewIndex(sessionID)

	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		hash, version, ok := ParseName(entry.Name())
		if !ok {
			continue
		}
		idx.add(FileCheckpoint{
			PathHash:  hash,
			Version:   version,
			SessionID: sessionID,
			FilePath:  filepath.Join(dir, entry.Name()),
		})
	}

	idx.sortVersions()
	return idx, nil
}

// Read returns the raw bytes of a checkpoint
func (s *Store) Read(cp FileCheckpoint) ([]byte, error) {
	data, err := os.ReadFile(cp.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", cp.Name(), err)
	}
	return data, nil
}

// Sessions lists the session ids that have a checkpoint directory
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file history dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if claude.IsDirOrSymlink(entry, s.baseDir) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
