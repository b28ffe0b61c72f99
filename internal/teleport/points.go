package teleport

import (
	"fmt"
	"sort"
	"time"

	"rewind/internal/history"
)

// DefaultRestorePointLimit bounds ListRestorePoints
const DefaultRestorePointLimit = 20

// RestorePoint is a moment of a session the files can be restored at
type RestorePoint struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	FileCount   int       `json:"file_count"`
}

// ListRestorePoints returns the most recent limit restore points of tree,
// newest first. Snapshot events and assistant turns that wrote files qualify.
func ListRestorePoints(tree *history.Tree, limit int) []RestorePoint {
	if tree == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultRestorePointLimit
	}

	var points []RestorePoint
	for _, ev := range tree.Chronological() {
		switch ev.Kind {
		case history.KindSnapshot:
			count := 0
			if ev.Snapshot != nil {
				count = len(ev.Snapshot.TrackedFiles)
			}
			points = append(points, RestorePoint{
				EventID:     ev.ID,
				Timestamp:   ev.Timestamp,
				Description: "File snapshot",
				FileCount:   count,
			})

		case history.KindAssistant:
			writes := 0
			for _, use := range ev.ToolUses {
				if history.IsWriteTool(use.Name) {
					writes++
				}
			}
			if writes == 0 {
				continue
			}
			count := len(ev.WrittenPaths())
			if count == 0 {
				count = writes
			}
			points = append(points, RestorePoint{
				EventID:     ev.ID,
				Timestamp:   ev.Timestamp,
				Description: fmt.Sprintf("%d file(s) modified", count),
				FileCount:   count,
			})
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.After(points[j].Timestamp)
	})
	if len(points) > limit {
		points = points[:limit]
	}
	return points
}
