package history

// MainThread returns the primary conversation path, starting at the first
// non-sidechain root. Nil when the tree is empty.
func (t *Tree) MainThread() []*Event {
	if len(t.roots) == 0 {
		return nil
	}

	start := t.roots[0]
	for _, id := range t.roots {
		if !t.events[id].IsSidechain {
			start = id
			break
		}
	}
	return t.MainThreadFrom(start)
}

// MainThreadFrom walks from rootID, descending at each node into the
// preferred child: the first non-sidechain conversational child, else the
// first non-sidechain child, else the first child.
func (t *Tree) MainThreadFrom(rootID string) []*Event {
	cur, ok := t.events[rootID]
	if !ok {
		return nil
	}

	var thread []*Event
	visited := make(map[string]bool)
	for cur != nil && !visited[cur.ID] {
		visited[cur.ID] = true
		thread = append(thread, cur)
		cur = t.primaryChild(cur.ID)
	}
	return thread
}

func (t *Tree) primaryChild(id string) *Event {
	kids := t.children[id]
	if len(kids) == 0 {
		return nil
	}

	var fallback *Event
	for _, kid := range kids {
		ev := t.events[kid]
		if ev.IsSidechain {
			continue
		}
		if ev.IsConversational() {
			return ev
		}
		if fallback == nil {
			fallback = ev
		}
	}
	if fallback != nil {
		return fallback
	}
	return t.events[kids[0]]
}

// LinearPath returns the chain from the root down to leafID
func (t *Tree) LinearPath(leafID string) []*Event {
	var path []*Event
	seen := make(map[string]bool)
	for id := leafID; id != "" && !seen[id]; {
		ev, ok := t.events[id]
		if !ok {
			break
		}
		seen[id] = true
		path = append(path, ev)
		id = ev.ParentID
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Leaves returns the events without children in arrival order
func (t *Tree) Leaves() []*Event {
	var leaves []*Event
	for _, id := range t.order {
		if len(t.children[id]) == 0 {
			leaves = append(leaves, t.events[id])
		}
	}
	return leaves
}
