package history

// File-touching tool names
const (
	ToolRead         = "Read"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolNotebookEdit = "NotebookEdit"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
)

// pathKeys are the tool input keys that carry a file path, in priority order
var pathKeys = []string{"file_path", "notebook_path", "path"}

var pathTools = map[string]bool{
	ToolRead:         true,
	ToolWrite:        true,
	ToolEdit:         true,
	ToolMultiEdit:    true,
	ToolNotebookEdit: true,
	ToolGlob:         true,
	ToolGrep:         true,
}

var writeTools = map[string]bool{
	ToolWrite:        true,
	ToolEdit:         true,
	ToolMultiEdit:    true,
	ToolNotebookEdit: true,
}

// IsWriteTool reports whether the tool modifies files
func IsWriteTool(name string) bool {
	return writeTools[name]
}

// Path returns the file path a tool invocation refers to
func (u ToolUse) Path() (string, bool) {
	if !pathTools[u.Name] {
		return "", false
	}
	for _, key := range pathKeys {
		if p, ok := u.Input[key].(string); ok && p != "" {
			return p, true
		}
	}
	return "", false
}

// FilePaths returns the paths referenced by the event's tool uses, in order
func (e *Event) FilePaths() []string {
	var paths []string
	for _, use := range e.ToolUses {
		if p, ok := use.Path(); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// WrittenPaths returns the distinct paths the event's write tools touched
func (e *Event) WrittenPaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, use := range e.ToolUses {
		if !IsWriteTool(use.Name) {
			continue
		}
		p, ok := use.Path()
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}
