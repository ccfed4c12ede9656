package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByThresholdSingleProducer(t *testing.T) {
	entries := []Entry{{StateHash: "state_hash_1", Producer: "bp_1"}}
	out := FilterByThreshold(entries, DefaultThresholdFraction)
	assert.Equal(t, []string{"state_hash_1"}, out)
}

func TestFilterByThresholdMulti(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", Producer: "bp_1"},
		{StateHash: "state_hash_1", Producer: "bp_2"},
		{StateHash: "state_hash_2", Producer: "bp_3"},
	}
	// Quorum is 3 × 0.34 = 1.02 producers: two of three clears it, one does not.
	out := FilterByThreshold(entries, DefaultThresholdFraction)
	assert.Equal(t, []string{"state_hash_1"}, out)
}

func TestFilterByThresholdRankedDescending(t *testing.T) {
	entries := []Entry{
		{StateHash: "h_minor", Producer: "bp_1"},
		{StateHash: "h_major", Producer: "bp_1"},
		{StateHash: "h_major", Producer: "bp_2"},
		{StateHash: "h_major", Producer: "bp_3"},
		{StateHash: "h_minor", Producer: "bp_2"},
	}
	out := FilterByThreshold(entries, 0.05)
	assert.Equal(t, []string{"h_major", "h_minor"}, out)
}

func TestBuildNodeCount(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_2", ParentStateHash: "parent_state_hash_2"},
	}
	prev := []ShortlistEntry{{StateHash: "parent_state_hash_1", Weight: 0}}
	threshold := []string{"state_hash_1", "state_hash_2"}
	prevEdges := []Edge{{Parent: "parent_state_hash_1", Child: "state_hash_1"}}

	g, rejected := Build(entries, prev, threshold, prevEdges)
	assert.Zero(t, rejected)
	// Every hash appearing as state or parent in the batch, plus the
	// shortlist, exactly once.
	assert.Equal(t, 4, g.NodeCount())
	for _, h := range []string{"state_hash_1", "state_hash_2", "parent_state_hash_1", "parent_state_hash_2"} {
		assert.True(t, g.HasNode(h), h)
	}
	// parent_state_hash_2 is not a known node, so only the (deduplicated)
	// shortlist edge remains.
	assert.Equal(t, 1, g.EdgeCount())
}

func TestBuildEdgeGluing(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_2", ParentStateHash: "state_hash_1"},
		{StateHash: "state_hash_3", ParentStateHash: "state_hash_2"},
	}
	prev := []ShortlistEntry{
		{StateHash: "parent_state_hash_1", Weight: 123},
		{StateHash: "parent_state_hash_2", Weight: 345},
	}
	threshold := []string{"state_hash_1", "state_hash_2"}
	prevEdges := []Edge{{Parent: "parent_state_hash_2", Child: "parent_state_hash_1"}}

	g, rejected := Build(entries, prev, threshold, prevEdges)
	assert.Zero(t, rejected)
	assert.Equal(t, 5, g.NodeCount())
	// One carried edge plus three valid in-batch parent→child links.
	assert.Equal(t, len(prevEdges)+3, g.EdgeCount())
}

func TestApplyWeightsAllSentinel(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_2", ParentStateHash: "state_hash_1"},
		{StateHash: "state_hash_3", ParentStateHash: "state_hash_2"},
	}
	prev := []ShortlistEntry{
		{StateHash: "parent_state_hash_1", Weight: 123},
		{StateHash: "parent_state_hash_2", Weight: 345},
	}
	g, _ := Build(entries, prev, []string{"state_hash_1", "state_hash_2"},
		[]Edge{{Parent: "parent_state_hash_2", Child: "parent_state_hash_1"}})

	// Empty threshold and empty shortlist leave every node at the sentinel.
	ApplyWeights(g, nil, nil)
	require.Equal(t, 5, g.NodeCount())
	for _, h := range g.Nodes() {
		assert.Equal(t, SentinelWeight, g.Weight(h), h)
	}
}

func TestApplyWeightsPerNode(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_2", ParentStateHash: "state_hash_1"},
		{StateHash: "state_hash_3", ParentStateHash: "state_hash_2"},
	}
	prev := []ShortlistEntry{
		{StateHash: "parent_state_hash_1", Weight: 123},
		{StateHash: "parent_state_hash_2", Weight: 345},
	}
	threshold := []string{"state_hash_1", "state_hash_2"}
	g, _ := Build(entries, prev, threshold,
		[]Edge{{Parent: "parent_state_hash_2", Child: "parent_state_hash_1"}})

	ApplyWeights(g, threshold, prev)
	assert.Equal(t, 0, g.Weight("state_hash_1"))
	assert.Equal(t, 0, g.Weight("state_hash_2"))
	assert.Equal(t, SentinelWeight, g.Weight("state_hash_3"))
	assert.Equal(t, 123, g.Weight("parent_state_hash_1"))
	assert.Equal(t, 345, g.Weight("parent_state_hash_2"))
}

func TestPropagateLinearChain(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_2", ParentStateHash: "state_hash_1"},
		{StateHash: "state_hash_3", ParentStateHash: "state_hash_2"},
	}
	prev := []ShortlistEntry{
		{StateHash: "parent_state_hash_1", Weight: 123},
		{StateHash: "parent_state_hash_2", Weight: 345},
	}
	threshold := []string{"state_hash_1", "state_hash_2"}
	g, _ := Build(entries, prev, threshold,
		[]Edge{{Parent: "parent_state_hash_2", Child: "parent_state_hash_1"}})
	ApplyWeights(g, threshold, prev)

	seeds := []string{"parent_state_hash_1", "parent_state_hash_2", "state_hash_1", "state_hash_2"}
	out := Propagate(g, seeds, DefaultMaxDepth)

	byHash := map[string]int{}
	for _, e := range out {
		byHash[e.StateHash] = e.Weight
	}
	// Exact weights, not just membership: the carried parents sit outside
	// the radius, the chain comes out [0, 0, 1].
	require.Equal(t, map[string]int{
		"state_hash_1": 0,
		"state_hash_2": 0,
		"state_hash_3": 1,
	}, byHash)
}

func TestPropagateParallelChains(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_11", ParentStateHash: "parent_state_hash_1"},
		{StateHash: "state_hash_12", ParentStateHash: "state_hash_11"},
		{StateHash: "state_hash_13", ParentStateHash: "state_hash_12"},
		{StateHash: "state_hash_14", ParentStateHash: "state_hash_13"},
		{StateHash: "state_hash_15", ParentStateHash: "state_hash_14"},
		{StateHash: "state_hash_16", ParentStateHash: "state_hash_15"},
		{StateHash: "state_hash_21", ParentStateHash: "parent_state_hash_2"},
		{StateHash: "state_hash_22", ParentStateHash: "state_hash_21"},
		{StateHash: "state_hash_23", ParentStateHash: "state_hash_22"},
		{StateHash: "state_hash_24", ParentStateHash: "state_hash_23"},
		{StateHash: "state_hash_25", ParentStateHash: "state_hash_24"},
		{StateHash: "state_hash_26", ParentStateHash: "state_hash_25"},
	}
	prev := []ShortlistEntry{
		{StateHash: "parent_state_hash_1", Weight: 1},
		{StateHash: "parent_state_hash_2", Weight: 1},
	}
	threshold := []string{"state_hash_11", "state_hash_21"}
	g, _ := Build(entries, prev, threshold,
		[]Edge{{Parent: "parent_state_hash_2", Child: "parent_state_hash_1"}})
	ApplyWeights(g, threshold, prev)

	seeds := []string{"parent_state_hash_1", "parent_state_hash_2", "state_hash_11", "state_hash_21"}
	out := Propagate(g, seeds, DefaultMaxDepth)

	got := map[string]struct{}{}
	for _, e := range out {
		got[e.StateHash] = struct{}{}
	}
	// Nodes at distance 3+ from any root are excluded.
	assert.Equal(t, map[string]struct{}{
		"parent_state_hash_1": {},
		"parent_state_hash_2": {},
		"state_hash_11":       {},
		"state_hash_21":       {},
		"state_hash_12":       {},
		"state_hash_22":       {},
		"state_hash_13":       {},
		"state_hash_23":       {},
	}, got)
}

func TestPropagateEmptySeeds(t *testing.T) {
	entries := []Entry{
		{StateHash: "state_hash_1", ParentStateHash: "parent_state_hash_1"},
	}
	g, _ := Build(entries, nil, nil, nil)
	ApplyWeights(g, nil, nil)

	out := Propagate(g, nil, DefaultMaxDepth)
	assert.Empty(t, out)
}

func TestCycleGuard(t *testing.T) {
	// Corrupt data: state_hash_3 claims its own descendant as parent.
	entries := []Entry{
		{StateHash: "state_hash_2", ParentStateHash: "state_hash_1"},
		{StateHash: "state_hash_3", ParentStateHash: "state_hash_2"},
		{StateHash: "state_hash_1", ParentStateHash: "state_hash_3"},
	}
	g, rejected := Build(entries, nil, []string{"state_hash_1"}, nil)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 2, g.EdgeCount())

	ApplyWeights(g, []string{"state_hash_1"}, nil)
	out := Propagate(g, []string{"state_hash_1"}, DefaultMaxDepth)
	assert.Len(t, out, 3)
}
