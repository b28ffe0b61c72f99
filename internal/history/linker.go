package history

import (
	"sort"
)

// LinkReport describes the repairs made while finalizing a tree
type LinkReport struct {
	// Linked maps an orphan id to the summary it was attached to
	Linked map[string]string
	// RootPromoted lists orphans no summary could anchor
	RootPromoted []string
	// CyclesBroken lists events detached from a parent cycle
	CyclesBroken []string
	// InferredTimestamps counts events stamped with the parse time
	InferredTimestamps int
}

// Degraded reports how many events ended up in a position the transcript did
// not state explicitly.
func (r LinkReport) Degraded() int {
	return len(r.RootPromoted) + len(r.CyclesBroken)
}

// linkOrphans attaches every event whose parent is absent to the latest
// compaction summary at or before it. Unanchored orphans become roots.
func linkOrphans(t *Tree) LinkReport {
	report := LinkReport{Linked: make(map[string]string)}

	var orphans []*Event
	var summaries []*Event
	for _, id := range t.order {
		ev := t.events[id]
		if ev.ParentID != "" {
			if _, ok := t.events[ev.ParentID]; !ok {
				orphans = append(orphans, ev)
			}
		}
		if ev.Kind == KindSummary {
			summaries = append(summaries, ev)
		}
	}
	if len(orphans) == 0 {
		return report
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.Before(summaries[j].Timestamp)
	})

	for _, orphan := range orphans {
		anchor := findAnchor(t, summaries, orphan)
		if anchor == nil {
			orphan.ParentID = ""
			report.RootPromoted = append(report.RootPromoted, orphan.ID)
			continue
		}
		orphan.ParentID = anchor.ID
		report.Linked[orphan.ID] = anchor.ID
	}
	return report
}

// findAnchor returns the latest summary not after the orphan that can adopt
// it without closing a loop.
func findAnchor(t *Tree, summaries []*Event, orphan *Event) *Event {
	// first summary strictly after the orphan
	end := sort.Search(len(summaries), func(i int) bool {
		return summaries[i].Timestamp.After(orphan.Timestamp)
	})

	for i := end - 1; i >= 0; i-- {
		candidate := summaries[i]
		if candidate.ID == orphan.ID {
			continue
		}
		if descendsFrom(t, candidate, orphan.ID) {
			continue
		}
		return candidate
	}
	return nil
}

// descendsFrom reports whether ancestorID is on the parent chain of ev
func descendsFrom(t *Tree, ev *Event, ancestorID string) bool {
	seen := make(map[string]bool)
	for cur := ev; cur != nil && cur.ParentID != ""; {
		if cur.ParentID == ancestorID {
			return true
		}
		if seen[cur.ParentID] {
			return false
		}
		seen[cur.ParentID] = true
		cur = t.events[cur.ParentID]
	}
	return false
}
