package history

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"rewind/internal/claude"
)

// timestampLayouts are tried in order; offset-less values are read as UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// now is swapped in tests
var now = time.Now

// ParseTimestamp parses an ISO-8601 timestamp permissively
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseRecord converts one decoded record into an Event. It returns nil for
// records that are unrecognized or lack the identifier their kind requires.
func ParseRecord(rec *claude.Record) *Event {
	if rec == nil {
		return nil
	}

	kind := Kind(rec.Type)
	id := rec.UUID
	parent := ""
	if rec.ParentUUID != nil {
		parent = *rec.ParentUUID
	}

	switch kind {
	case KindUser, KindAssistant:
		if id == "" {
			return nil
		}
	case KindSummary:
		if rec.LeafUUID != "" {
			id = SummaryID(rec.LeafUUID)
			parent = rec.LeafUUID
		}
		if id == "" {
			return nil
		}
	case KindSnapshot:
		if rec.MessageID != "" {
			id = SnapshotID(rec.MessageID)
			parent = rec.MessageID
		}
		if id == "" {
			return nil
		}
	default:
		return nil
	}

	ev := &Event{
		ID:          id,
		ParentID:    parent,
		Kind:        kind,
		SessionID:   rec.SessionID,
		Cwd:         rec.Cwd,
		GitBranch:   rec.GitBranch,
		Version:     rec.Version,
		IsSidechain: rec.IsSidechain,
	}

	switch kind {
	case KindUser:
		parseUser(ev, rec)
	case KindAssistant:
		parseAssistant(ev, rec)
	case KindSummary:
		parseSummary(ev, rec)
	case KindSnapshot:
		parseSnapshot(ev, rec)
	}

	ts, ok := ParseTimestamp(rec.Timestamp)
	if !ok && ev.Snapshot != nil {
		ts, ok = ParseTimestamp(ev.Snapshot.Timestamp)
	}
	if !ok {
		ts = now()
		ev.TimestampInferred = true
	}
	ev.Timestamp = ts

	return ev
}

func parseUser(ev *Event, rec *claude.Record) {
	ev.UserType = rec.UserType

	text, blocks := rec.Message.Blocks()
	if len(blocks) == 0 {
		ev.Text = text
		return
	}

	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "tool_result":
			ev.ToolResult = &ToolResult{
				ToolUseID: block.ToolUseID,
				Content:   toolResultText(block.Content),
				IsError:   block.IsError,
			}
		}
	}
	ev.Text = strings.Join(parts, "\n")
}

func parseAssistant(ev *Event, rec *claude.Record) {
	ev.Model = rec.Model
	if ev.Model == "" && rec.Message != nil {
		ev.Model = rec.Message.Model
	}
	ev.RequestID = rec.RequestID

	text, blocks := rec.Message.Blocks()
	if len(blocks) == 0 {
		ev.Text = text
		return
	}

	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			ev.ToolUses = append(ev.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: input})
		case "thinking":
			ev.Thinking = block.Thinking
		}
	}
	ev.Text = strings.Join(parts, "\n")
}

func parseSummary(ev *Event, rec *claude.Record) {
	ev.Summary = rec.Summary
	if ev.Summary == "" {
		text, _ := rec.Message.Blocks()
		ev.Summary = text
	}
	ev.Text = ev.Summary
}

func parseSnapshot(ev *Event, rec *claude.Record) {
	snap := &Snapshot{MessageID: rec.MessageID, IsUpdate: rec.IsUpdate}
	if len(rec.Snapshot) > 0 {
		// A snapshot blob that does not match the known shape is kept raw
		_ = json.Unmarshal(rec.Snapshot, snap)
		snap.Raw = rec.Snapshot
	}
	if snap.MessageID == "" {
		snap.MessageID = rec.MessageID
	}
	ev.Snapshot = snap
}

// toolResultText flattens tool result content, which is either a string or
// a list of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return string(raw)
	}

	var parts []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			parts = append(parts, str)
			continue
		}
		var block claude.ContentBlock
		if err := json.Unmarshal(item, &block); err == nil && block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ParseReader builds a finalized tree from a JSONL stream
func ParseReader(r io.Reader, logger *slog.Logger) (*Tree, LinkReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := NewBuilder()
	inferred := 0
	err := claude.ReadRecords(r, func(_ int, rec *claude.Record) {
		ev := ParseRecord(rec)
		if ev == nil {
			return
		}
		if ev.TimestampInferred {
			inferred++
		}
		b.Add(ev)
	})
	if err != nil {
		return nil, LinkReport{}, err
	}

	tree, report := b.Build()
	report.InferredTimestamps = inferred
	if inferred > 0 || report.Degraded() > 0 {
		logger.Debug("session tree finalized",
			"events", tree.Len(),
			"linked", len(report.Linked),
			"promoted", len(report.RootPromoted),
			"cycles", len(report.CyclesBroken),
			"inferred_timestamps", inferred)
	}
	return tree, report, nil
}

// ParseFile builds a finalized tree from a session JSONL file
func ParseFile(path string, logger *slog.Logger) (*Tree, LinkReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, LinkReport{}, fmt.Errorf("parse %s: %w", path, err)
	}
	defer file.Close()

	tree, report, err := ParseReader(file, logger.With("path", path))
	if err != nil {
		return nil, LinkReport{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return tree, report, nil
}
