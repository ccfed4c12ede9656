// Package graph reconstructs the block-producer chain structure from
// overlapping survey batches and decides which state hashes represent the
// canonical tip lineage worth rewarding.
package graph

import "math"

const (
	// SentinelWeight marks a node not yet reached from any canonical tip.
	SentinelWeight = 9999

	// DefaultThresholdFraction is the quorum fraction of distinct producers
	// a state hash must be corroborated by to be treated as canonical.
	// Operators commonly relax this to 0.05 on small networks.
	DefaultThresholdFraction = 0.34

	// DefaultMaxDepth is the acceptance radius around canonical tips for
	// the carry-over shortlist.
	DefaultMaxDepth = 2
)

// Entry is one verified submission reduced to its graph-relevant fields.
type Entry struct {
	StateHash       string
	ParentStateHash string
	Producer        string
}

// ShortlistEntry is a state hash with its BFS-computed distance from the
// canonical frontier.
type ShortlistEntry struct {
	StateHash string
	Weight    int
}

// Edge is an explicit parent→child pair carried from the prior batch's
// shortlist.
type Edge struct {
	Parent string
	Child  string
}

// FilterByThreshold returns every state hash submitted by at least
// p × (total distinct producers in the batch) distinct producers, ranked
// by descending distinct-producer count. This is the quorum check keeping a
// single submitter's claim from dominating the canonical set.
func FilterByThreshold(entries []Entry, p float64) []string {
	producersByHash := make(map[string]map[string]struct{})
	var hashOrder []string
	producers := make(map[string]struct{})

	for _, e := range entries {
		if _, ok := producersByHash[e.StateHash]; !ok {
			producersByHash[e.StateHash] = make(map[string]struct{})
			hashOrder = append(hashOrder, e.StateHash)
		}
		producersByHash[e.StateHash][e.Producer] = struct{}{}
		producers[e.Producer] = struct{}{}
	}

	quorum := math.Round(float64(len(producers))*p*100) / 100

	// Rank by count descending, stable on first appearance.
	ranked := make([]string, len(hashOrder))
	copy(ranked, hashOrder)
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && len(producersByHash[ranked[j]]) > len(producersByHash[ranked[j-1]]); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	var out []string
	for _, h := range ranked {
		if float64(len(producersByHash[h])) >= quorum {
			out = append(out, h)
		}
	}
	return out
}

// Build assembles the two-batch DAG: the current batch's parent→child claims
// glued onto the previous shortlist boundary. Batch edges are only linked to
// parents that are known nodes (batch state hashes or shortlist members);
// previous-shortlist edges are added unconditionally. The second return
// value counts edges rejected by the cycle guard.
func Build(entries []Entry, prev []ShortlistEntry, threshold []string, prevEdges []Edge) (*Digraph, int) {
	g := NewDigraph()

	known := make(map[string]struct{}, len(entries)+len(prev))
	for _, e := range entries {
		known[e.StateHash] = struct{}{}
	}
	for _, s := range prev {
		known[s.StateHash] = struct{}{}
	}

	for _, s := range prev {
		g.AddNode(s.StateHash)
	}
	for _, h := range threshold {
		g.AddNode(h)
	}
	for _, e := range entries {
		g.AddNode(e.StateHash)
		g.AddNode(e.ParentStateHash)
	}

	rejected := 0
	for _, e := range entries {
		if _, ok := known[e.ParentStateHash]; !ok {
			continue
		}
		if !g.AddEdge(e.ParentStateHash, e.StateHash) {
			rejected++
		}
	}
	for _, pe := range prevEdges {
		if !g.AddEdge(pe.Parent, pe.Child) {
			rejected++
		}
	}
	return g, rejected
}

// ApplyWeights assigns initial weights: 0 for threshold members, the carried
// weight for previous-shortlist members, the sentinel for everything else.
// Threshold membership wins when a hash is in both sets.
func ApplyWeights(g *Digraph, threshold []string, prev []ShortlistEntry) {
	inThreshold := make(map[string]struct{}, len(threshold))
	for _, h := range threshold {
		inThreshold[h] = struct{}{}
	}
	carried := make(map[string]int, len(prev))
	for _, s := range prev {
		carried[s.StateHash] = s.Weight
	}

	for _, h := range g.Nodes() {
		if _, ok := inThreshold[h]; ok {
			g.SetWeight(h, 0)
		} else if w, ok := carried[h]; ok {
			g.SetWeight(h, w)
		} else {
			g.SetWeight(h, SentinelWeight)
		}
	}
}

// Propagate relaxes weights breadth-first from the seed queue. A dequeued
// node's unvisited children each take the minimum of (parent weight + 1)
// over all their predecessors; a node is frozen once visited. Returns every
// node whose final weight is within maxDepth, in node insertion order —
// the next batch's shortlist.
func Propagate(g *Digraph, seeds []string, maxDepth int) []ShortlistEntry {
	visited := make(map[string]struct{})
	if len(seeds) > 0 {
		visited[seeds[0]] = struct{}{}
	}

	queue := make([]string, len(seeds))
	copy(queue, seeds)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, child := range g.Successors(m) {
			if _, ok := visited[child]; ok {
				continue
			}
			g.SetWeight(child, minOverPredecessors(g, child))
			visited[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	var out []ShortlistEntry
	for _, h := range g.Nodes() {
		if w := g.Weight(h); w <= maxDepth {
			out = append(out, ShortlistEntry{StateHash: h, Weight: w})
		}
	}
	return out
}

func minOverPredecessors(g *Digraph, child string) int {
	w := g.Weight(child)
	for _, p := range g.Predecessors(child) {
		if pw := g.Weight(p) + 1; pw < w {
			w = pw
		}
	}
	return w
}
