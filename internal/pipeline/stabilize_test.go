package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// apply marks planned nodes as frozen the way the in-page script does.
func apply(s domSnapshot, plan []freeze) domSnapshot {
	frozen := make(map[int]int, len(plan))
	for _, f := range plan {
		frozen[f.ID] = f.Height
	}

	next := domSnapshot{Viewport: s.Viewport, Nodes: make([]domNode, len(s.Nodes))}
	for i, n := range s.Nodes {
		if h, ok := frozen[n.ID]; ok {
			n.Height = h
			n.Frozen = true
		}
		next.Nodes[i] = n
	}

	return next
}

func sampleSnapshot() domSnapshot {
	return domSnapshot{
		Viewport: 1000,
		Nodes: []domNode{
			// Hero fits its box: frozen, children skipped.
			{ID: 1, Parent: 0, Height: 1000, First: 1000, Scroll: 1000, Visible: true},
			{ID: 2, Parent: 1, Height: 900, First: 900, Scroll: 900, Visible: true},
			// Wrapper overflows: not frozen, children visited.
			{ID: 3, Parent: 0, Height: 3000, First: 2000, Scroll: 3000, Visible: true},
			{ID: 4, Parent: 3, Height: 500, First: 500, Scroll: 500, Visible: true},
			{ID: 5, Parent: 3, Height: 450, First: 450, Scroll: 450, Visible: true},
			// Too small.
			{ID: 6, Parent: 3, Height: 300, First: 300, Scroll: 300, Visible: true},
			// Hidden.
			{ID: 7, Parent: 0, Height: 800, First: 800, Scroll: 800, Visible: false},
		},
	}
}

func TestPlanFreeze(t *testing.T) {
	plan := planFreeze(sampleSnapshot(), 0.4, 64)

	assert.Equal(t, []freeze{
		{ID: 1, Height: 1000},
		{ID: 4, Height: 500},
		{ID: 5, Height: 450},
	}, plan)
}

func TestPlanFreeze_Idempotent(t *testing.T) {
	s := sampleSnapshot()

	first := planFreeze(s, 0.4, 64)
	assert.NotEmpty(t, first)

	second := planFreeze(apply(s, first), 0.4, 64)
	assert.Empty(t, second)
}

func TestPlanFreeze_FirstHeightWins(t *testing.T) {
	// The element grew after the first measurement; it is frozen back.
	s := domSnapshot{
		Viewport: 1000,
		Nodes:    []domNode{{ID: 1, Height: 5000, First: 1000, Scroll: 900, Visible: true}},
	}

	assert.Equal(t, []freeze{{ID: 1, Height: 1000}}, planFreeze(s, 0.4, 64))
}

func TestPlanFreeze_DepthLimit(t *testing.T) {
	// A chain of overflowing wrappers deeper than the limit.
	var nodes []domNode
	for i := 1; i <= 100; i++ {
		nodes = append(nodes, domNode{ID: i, Parent: i - 1, Height: 2000, First: 2000, Scroll: 2500, Visible: true})
	}
	nodes = append(nodes, domNode{ID: 101, Parent: 100, Height: 500, First: 500, Scroll: 500, Visible: true})

	s := domSnapshot{Viewport: 1000, Nodes: nodes}

	assert.Empty(t, planFreeze(s, 0.4, 10))
	assert.Equal(t, []freeze{{ID: 101, Height: 500}}, planFreeze(s, 0.4, 200))
}

func TestPlanFreeze_EmptySnapshot(t *testing.T) {
	assert.Empty(t, planFreeze(domSnapshot{}, 0.4, 64))
	assert.Empty(t, planFreeze(domSnapshot{Nodes: sampleSnapshot().Nodes}, 0.4, 64))
}

func TestPlanFreeze_RejectedDescends(t *testing.T) {
	s := sampleSnapshot()

	first := planFreeze(s, 0.4, 64)
	s = s.mark(first, applyResult{Applied: 2, Rejected: []int{1}})

	// The hero did not fit after all: its child is planned, nothing else.
	assert.Equal(t, []freeze{{ID: 2, Height: 900}}, planFreeze(s, 0.4, 64))
}

func TestSnapshot_Mark(t *testing.T) {
	s := sampleSnapshot().mark(
		[]freeze{{ID: 1, Height: 1000}, {ID: 4, Height: 500}},
		applyResult{Applied: 1, Rejected: []int{4}},
	)

	byID := map[int]domNode{}
	for _, n := range s.Nodes {
		byID[n.ID] = n
	}

	assert.True(t, byID[1].Frozen)
	assert.False(t, byID[1].Rejected)
	assert.True(t, byID[4].Rejected)
	assert.False(t, byID[4].Frozen)
	assert.False(t, byID[5].Frozen || byID[5].Rejected)
}
