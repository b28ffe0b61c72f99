// Package history reconstructs the causal tree of a session transcript.
//
// Records are decoded into Events, assembled into an arena keyed by event id
// with a parent→children index, and finalized by splicing chains orphaned by
// compaction onto the compaction summary that precedes them.
package history

import (
	"encoding/json"
	"time"
)

// Kind is the event discriminator
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindSummary   Kind = "summary"
	KindSnapshot  Kind = "file-history-snapshot"
)

// Synthetic id prefixes for kinds without a native identifier
const (
	SummaryIDPrefix  = "summary:"
	SnapshotIDPrefix = "snapshot:"
)

// ToolUse is a tool invocation inside an assistant turn
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult is a tool execution result carried by a user turn
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TrackedFile is one backup entry of a file-history snapshot
type TrackedFile struct {
	BackupFileName string `json:"backupFileName"`
	Version        int    `json:"version"`
	BackupTime     string `json:"backupTime,omitempty"`
}

// Snapshot is the payload of a file-history-snapshot record
type Snapshot struct {
	MessageID    string                 `json:"messageId,omitempty"`
	TrackedFiles map[string]TrackedFile `json:"trackedFileBackups,omitempty"`
	Timestamp    string                 `json:"timestamp,omitempty"`
	IsUpdate     bool                   `json:"-"`
	Raw          json.RawMessage        `json:"-"`
}

// Event is a single parsed transcript record. Events are owned by the Tree
// that holds them and must be treated as read-only by consumers.
type Event struct {
	ID       string
	ParentID string
	Kind     Kind

	Timestamp time.Time
	// TimestampInferred is set when the record carried no usable timestamp
	// and the parse time was substituted.
	TimestampInferred bool

	SessionID   string
	Cwd         string
	GitBranch   string
	Version     string
	IsSidechain bool
	UserType    string

	Text       string
	ToolUses   []ToolUse
	ToolResult *ToolResult
	Thinking   string

	Model     string
	RequestID string

	Summary  string
	Snapshot *Snapshot
}

// IsRoot reports whether the event has no parent
func (e *Event) IsRoot() bool {
	return e.ParentID == ""
}

// IsConversational reports whether the event is part of the dialogue rather
// than a derived artifact.
func (e *Event) IsConversational() bool {
	return e.Kind != KindSnapshot
}

// SummaryID derives the synthetic id of a compaction summary
func SummaryID(leafUUID string) string {
	return SummaryIDPrefix + leafUUID
}

// SnapshotID derives the synthetic id of a file-history snapshot
func SnapshotID(messageID string) string {
	return SnapshotIDPrefix + messageID
}
