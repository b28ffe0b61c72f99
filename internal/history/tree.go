package history

import (
	"sort"
)

// Tree is a finalized forest of events. Every non-root event's parent is a
// member of the tree and every event is reachable from exactly one root.
type Tree struct {
	events   map[string]*Event
	order    []string
	position map[string]int
	roots    []string
	children map[string][]string
}

// Len returns the number of events
func (t *Tree) Len() int {
	return len(t.events)
}

// Get returns the event with the given id
func (t *Tree) Get(id string) (*Event, bool) {
	ev, ok := t.events[id]
	return ev, ok
}

// Has reports whether id is an event of the tree
func (t *Tree) Has(id string) bool {
	_, ok := t.events[id]
	return ok
}

// Roots returns the root events in arrival order
func (t *Tree) Roots() []*Event {
	return t.resolve(t.roots)
}

// Children returns the children of id in arrival order
func (t *Tree) Children(id string) []*Event {
	return t.resolve(t.children[id])
}

// Parent returns the parent of id, if any
func (t *Tree) Parent(id string) (*Event, bool) {
	ev, ok := t.events[id]
	if !ok || ev.ParentID == "" {
		return nil, false
	}
	return t.Get(ev.ParentID)
}

// Events returns all events in arrival order
func (t *Tree) Events() []*Event {
	return t.resolve(t.order)
}

// Chronological returns all events ordered by timestamp; ties keep arrival
// order.
func (t *Tree) Chronological() []*Event {
	events := t.Events()
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func (t *Tree) resolve(ids []string) []*Event {
	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.events[id])
	}
	return out
}

// Builder accumulates events and produces a Tree once all records are in
type Builder struct {
	events   map[string]*Event
	order    []string
	position map[string]int
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{
		events:   make(map[string]*Event),
		position: make(map[string]int),
	}
}

// Add inserts an event. An event whose id was already added replaces the
// earlier one but keeps its arrival position.
func (b *Builder) Add(ev *Event) {
	if ev == nil || ev.ID == "" {
		return
	}
	if _, exists := b.events[ev.ID]; !exists {
		b.position[ev.ID] = len(b.order)
		b.order = append(b.order, ev.ID)
	}
	b.events[ev.ID] = ev
}

// Len returns the number of distinct events added so far
func (b *Builder) Len() int {
	return len(b.order)
}

// Build finalizes the forest: orphans are spliced onto compaction summaries,
// snapshot timestamps are aligned with their parents and any remaining cycle
// is broken. The builder must not be reused afterwards.
func (b *Builder) Build() (*Tree, LinkReport) {
	t := &Tree{
		events:   b.events,
		order:    b.order,
		position: b.position,
		children: make(map[string][]string),
	}

	report := linkOrphans(t)

	for _, id := range t.order {
		ev := t.events[id]
		if ev.ParentID == "" {
			t.roots = append(t.roots, id)
			continue
		}
		t.children[ev.ParentID] = append(t.children[ev.ParentID], id)
	}

	report.CyclesBroken = breakCycles(t)
	stampSnapshots(t)

	b.events = nil
	b.order = nil
	b.position = nil
	return t, report
}

// breakCycles promotes the first unreachable event of every cycle to a root
func breakCycles(t *Tree) []string {
	reached := make(map[string]bool, len(t.events))
	mark := func(start string) {
		stack := []string{start}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reached[id] {
				continue
			}
			reached[id] = true
			stack = append(stack, t.children[id]...)
		}
	}

	for _, id := range t.roots {
		mark(id)
	}
	if len(reached) == len(t.events) {
		return nil
	}

	var broken []string
	for _, id := range t.order {
		if reached[id] {
			continue
		}
		ev := t.events[id]
		t.detach(id, ev.ParentID)
		ev.ParentID = ""
		t.roots = append(t.roots, id)
		broken = append(broken, id)
		mark(id)
	}

	sort.SliceStable(t.roots, func(i, j int) bool {
		return t.position[t.roots[i]] < t.position[t.roots[j]]
	})
	return broken
}

func (t *Tree) detach(id, parentID string) {
	siblings := t.children[parentID]
	for i, sib := range siblings {
		if sib == id {
			t.children[parentID] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	if len(t.children[parentID]) == 0 {
		delete(t.children, parentID)
	}
}

// stampSnapshots gives every snapshot with a parent the parent's timestamp
func stampSnapshots(t *Tree) {
	for _, id := range t.order {
		ev := t.events[id]
		if ev.Kind != KindSnapshot || ev.ParentID == "" {
			continue
		}
		parent, ok := t.events[ev.ParentID]
		if !ok {
			continue
		}
		ev.Timestamp = parent.Timestamp
		ev.TimestampInferred = parent.TimestampInferred
	}
}
