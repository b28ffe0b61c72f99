// internal/session/discovery.go
package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rewind/internal/claude"
)

// discoveredFile is a transcript found under the projects directory
type discoveredFile struct {
	path    string
	project string
	// owner is the session directory a subagent file was found under
	owner string
}

// discover lists transcripts: <project>/*.jsonl plus agent runs stored as
// <project>/<session>/subagents/agent-*.jsonl.
func discover(projectsDir string) ([]discoveredFile, error) {
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil, err
	}

	var files []discoveredFile
	for _, entry := range entries {
		if !claude.IsDirOrSymlink(entry, projectsDir) {
			continue
		}

		projDir := filepath.Join(projectsDir, entry.Name())
		sessionFiles, err := os.ReadDir(projDir)
		if err != nil {
			continue
		}

		for _, sf := range sessionFiles {
			if claude.IsSessionFile(sf) {
				files = append(files, discoveredFile{
					path:    filepath.Join(projDir, sf.Name()),
					project: entry.Name(),
				})
				continue
			}
			if !sf.IsDir() {
				continue
			}

			subagentsDir := filepath.Join(projDir, sf.Name(), "subagents")
			subFiles, err := os.ReadDir(subagentsDir)
			if err != nil {
				continue
			}
			for _, sub := range subFiles {
				if !claude.IsSessionFile(sub) || !strings.HasPrefix(sub.Name(), claude.AgentFilePrefix) {
					continue
				}
				files = append(files, discoveredFile{
					path:    filepath.Join(subagentsDir, sub.Name()),
					project: entry.Name(),
					owner:   sf.Name(),
				})
			}
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})
	return files, nil
}
