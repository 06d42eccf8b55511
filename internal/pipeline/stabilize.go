package pipeline

// domNode is one element of a stabilization snapshot.
type domNode struct {
	ID      int  `json:"id"`
	Parent  int  `json:"parent"` // 0 for children of body
	Height  int  `json:"height"` // current offsetHeight
	First   int  `json:"first"`  // offsetHeight at the first snapshot
	Scroll  int  `json:"scroll"` // scrollHeight
	Visible bool `json:"visible"`
	Frozen  bool `json:"frozen"` // already fixed to First

	// Rejected is set when freezing the element overflowed its content and
	// was rolled back. The walk then descends into its children instead.
	Rejected bool `json:"-"`
}

// domSnapshot is the flattened DOM below body, in document order.
type domSnapshot struct {
	Viewport int       `json:"viewport"`
	Nodes    []domNode `json:"nodes"`
}

// freeze fixes the box height of one element.
type freeze struct {
	ID     int `json:"id"`
	Height int `json:"height"`
}

// applyResult reports the planned freezes the page rolled back.
type applyResult struct {
	Applied  int   `json:"applied"`
	Rejected []int `json:"rejected"`
}

// mark records the outcome of applying plan: rejected nodes become
// walkable again, every other planned node is done.
func (s domSnapshot) mark(plan []freeze, res applyResult) domSnapshot {
	rejected := make(map[int]bool, len(res.Rejected))
	for _, id := range res.Rejected {
		rejected[id] = true
	}
	planned := make(map[int]bool, len(plan))
	for _, f := range plan {
		planned[f.ID] = true
	}

	next := domSnapshot{Viewport: s.Viewport, Nodes: make([]domNode, len(s.Nodes))}
	for i, n := range s.Nodes {
		switch {
		case rejected[n.ID]:
			n.Rejected = true
		case planned[n.ID]:
			n.Frozen = true
		}
		next.Nodes[i] = n
	}

	return next
}

type walkItem struct {
	id    int
	depth int
}

// planFreeze walks the snapshot depth-first and returns the elements whose
// height should be fixed to their first measured value.
//
// An element is a candidate when it is visible and its first height is at
// least minRatio of the viewport height. A candidate is frozen only if its
// content fits the frozen box; a frozen element hides its subtree from the
// walk. A rejected element is walked like one that does not fit. Elements already frozen produce no change, so planning twice over
// a stabilized page yields an empty plan. Nodes deeper than maxDepth are
// not visited.
func planFreeze(s domSnapshot, minRatio float64, maxDepth int) []freeze {
	if s.Viewport <= 0 || len(s.Nodes) == 0 {
		return nil
	}

	byID := make(map[int]domNode, len(s.Nodes))
	children := make(map[int][]int, len(s.Nodes))
	for _, n := range s.Nodes {
		byID[n.ID] = n
		children[n.Parent] = append(children[n.Parent], n.ID)
	}

	threshold := minRatio * float64(s.Viewport)

	var plan []freeze
	stack := pushChildren(nil, children[0], 1)

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := byID[item.id]

		if n.Visible && !n.Rejected && n.First > 0 && float64(n.First) >= threshold {
			if n.Frozen {
				continue
			}
			if n.Scroll <= n.First {
				plan = append(plan, freeze{ID: n.ID, Height: n.First})
				continue
			}
		}

		if item.depth < maxDepth {
			stack = pushChildren(stack, children[n.ID], item.depth+1)
		}
	}

	return plan
}

// pushChildren pushes ids in reverse so they are popped in document order.
func pushChildren(stack []walkItem, ids []int, depth int) []walkItem {
	for i := len(ids) - 1; i >= 0; i-- {
		stack = append(stack, walkItem{id: ids[i], depth: depth})
	}

	return stack
}
