// internal/claude/history.go
package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Record types written by Claude Code into session JSONL files
const (
	TypeUser                = "user"
	TypeAssistant           = "assistant"
	TypeSummary             = "summary"
	TypeFileHistorySnapshot = "file-history-snapshot"
)

// Record is one decoded line of a session JSONL file
type Record struct {
	Type        string          `json:"type"`
	UUID        string          `json:"uuid,omitempty"`
	ParentUUID  *string         `json:"parentUuid"`
	LeafUUID    string          `json:"leafUuid,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	IsSidechain bool            `json:"isSidechain"`
	UserType    string          `json:"userType,omitempty"`
	Cwd         string          `json:"cwd,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Version     string          `json:"version,omitempty"`
	GitBranch   string          `json:"gitBranch,omitempty"`
	AgentID     string          `json:"agentId,omitempty"`
	Model       string          `json:"model,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Message     *MessageBody    `json:"message,omitempty"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	IsUpdate    bool            `json:"isSnapshotUpdate,omitempty"`
}

// MessageBody is the "message" object of user and assistant records.
// Content is either a plain string or a list of content blocks.
type MessageBody struct {
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentBlock is a single entry of a message content list
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Blocks decodes the message content. A string content is returned as text
// with no blocks; bare strings inside a list become text blocks. Entries that
// fail to decode are skipped.
func (m *MessageBody) Blocks() (string, []ContentBlock) {
	if m == nil || len(m.Content) == 0 {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(m.Content, &raw); err != nil {
		return "", nil
	}

	blocks := make([]ContentBlock, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			blocks = append(blocks, ContentBlock{Type: "text", Text: s})
			continue
		}
		var block ContentBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}
		blocks = append(blocks, block)
	}
	return "", blocks
}

// maxLineSize bounds a single JSONL line. Lines carrying pasted images can
// run to several megabytes; longer lines are dropped.
const maxLineSize = 64 * 1024 * 1024

// readLines calls fn with every line of r and its 1-based number, without the
// trailing newline. Lines longer than limit are logged and skipped. The slice
// is only valid until fn returns.
func readLines(r io.Reader, limit int, fn func(lineNum int, line []byte)) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var (
		line    []byte
		lineNum int
		size    int
		pending bool
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			pending = true
			size += len(chunk)
			if size <= limit+2 {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}

		if pending {
			lineNum++
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if size > limit+2 || len(line) > limit {
				slog.Warn("skipping oversized line", "component", "claude", "line", lineNum, "bytes", size)
			} else {
				fn(lineNum, line)
			}
			line, size, pending = line[:0], 0, false
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading file: %w", err)
		}
	}
}

// ReadRecords decodes every line of r and calls fn with its 1-based line
// number. Blank, malformed and oversized lines are skipped.
func ReadRecords(r io.Reader, fn func(lineNum int, rec *Record)) error {
	return readLines(r, maxLineSize, func(lineNum int, line []byte) {
		if len(line) == 0 {
			return
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip malformed lines but continue processing
			return
		}
		fn(lineNum, &rec)
	})
}

// ForEachLine streams raw non-empty lines without decoding them. Oversized
// lines are skipped. The slice is only valid until fn returns.
func ForEachLine(filePath string, fn func(line []byte)) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return readLines(file, maxLineSize, func(_ int, line []byte) {
		if len(line) > 0 {
			fn(line)
		}
	})
}
