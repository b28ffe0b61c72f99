// internal/session/summary.go
package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"rewind/internal/claude"
	"rewind/internal/history"
)

// fileSummary is what a single pass over a transcript yields
type fileSummary struct {
	messages       int
	checkpoints    int
	firstTimestamp time.Time
	firstUserText  string
	ownerSessionID string
	modTime        time.Time
}

// summarizeFile extracts session metadata without decoding full records
func summarizeFile(path string) (fileSummary, error) {
	var sum fileSummary

	fi, err := os.Stat(path)
	if err != nil {
		return sum, fmt.Errorf("stat session file: %w", err)
	}
	sum.modTime = fi.ModTime()

	haveText := false
	err = claude.ForEachLine(path, func(line []byte) {
		if !gjson.ValidBytes(line) {
			return
		}

		if sum.ownerSessionID == "" {
			sum.ownerSessionID = gjson.GetBytes(line, "sessionId").Str
		}

		switch gjson.GetBytes(line, "type").Str {
		case claude.TypeFileHistorySnapshot:
			sum.checkpoints++
		case claude.TypeUser:
			sum.count(line)
			if !haveText {
				sum.firstUserText, haveText = userText(line)
			}
		case claude.TypeAssistant, claude.TypeSummary:
			sum.count(line)
		}
	})
	if err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *fileSummary) count(line []byte) {
	s.messages++
	if !s.firstTimestamp.IsZero() {
		return
	}
	if ts, ok := history.ParseTimestamp(gjson.GetBytes(line, "timestamp").Str); ok {
		s.firstTimestamp = ts
	}
}

// userText returns the plain text of a user record: string content, or the
// first text block of a content list.
func userText(line []byte) (string, bool) {
	content := gjson.GetBytes(line, "message.content")
	switch {
	case content.Type == gjson.String:
		return content.Str, content.Str != ""
	case content.IsArray():
		var text string
		found := false
		content.ForEach(func(_, block gjson.Result) bool {
			if block.IsObject() && block.Get("type").Str == "text" {
				text = block.Get("text").Str
				found = true
				return false
			}
			return true
		})
		return text, found && text != ""
	}
	return "", false
}

// Title derives a display title from the first user message. Whitespace runs
// collapse to one space and long titles are cut to maxLen runes with an
// ellipsis.
func Title(firstMessage string, maxLen int) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	if title == "" {
		return UntitledSession
	}
	if maxLen <= 3 {
		maxLen = DefaultTitleMaxLength
	}

	runes := []rune(title)
	if len(runes) > maxLen {
		title = string(runes[:maxLen-3]) + "..."
	}
	return title
}
