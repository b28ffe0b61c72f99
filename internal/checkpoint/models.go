// internal/checkpoint/models.go
package checkpoint

import "sort"

// FileCheckpoint is one stored version of a file, named <hash>@v<version>
type FileCheckpoint struct {
	PathHash  string `json:"path_hash"`
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
}

// Name returns the on-disk file name of the checkpoint
func (c FileCheckpoint) Name() string {
	return FileName(c.PathHash, c.Version)
}

// Index groups a session's checkpoints by path hash. Versions of every hash
// are kept in ascending order; gaps are allowed.
type Index struct {
	SessionID string
	versions  map[string][]FileCheckpoint
}

// NewIndex creates an empty index for a session
func NewIndex(sessionID string) *Index {
	return &Index{SessionID: sessionID, versions: make(map[string][]FileCheckpoint)}
}

func (idx *Index) add(cp FileCheckpoint) {
	idx.versions[cp.PathHash] = append(idx.versions[cp.PathHash], cp)
}

func (idx *Index) sortVersions() {
	for _, list := range idx.versions {
		sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	}
}

// Len returns the number of distinct path hashes
func (idx *Index) Len() int {
	return len(idx.versions)
}

// Hashes returns the indexed path hashes in sorted order
func (idx *Index) Hashes() []string {
	hashes := make([]string, 0, len(idx.versions))
	for h := range idx.versions {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// Versions returns every checkpoint of a hash, ascending by version
func (idx *Index) Versions(hash string) []FileCheckpoint {
	return idx.versions[hash]
}

// Latest returns the highest version stored for a hash
func (idx *Index) Latest(hash string) (FileCheckpoint, bool) {
	list := idx.versions[hash]
	if len(list) == 0 {
		return FileCheckpoint{}, false
	}
	return list[len(list)-1], true
}

// Count returns the total number of checkpoint files
func (idx *Index) Count() int {
	n := 0
	for _, list := range idx.versions {
		n += len(list)
	}
	return n
}

// PathMapping maps a path hash to the first original path seen for it
type PathMapping map[string]string

// Resolve returns the original path of a hash
func (m PathMapping) Resolve(hash string) (string, bool) {
	p, ok := m[hash]
	return p, ok
}
