package graph

// Digraph is a minimal adjacency-list directed graph over state hash
// identifiers. Node and neighbor iteration follow insertion order so
// traversals are deterministic. Edges are deduplicated.
type Digraph struct {
	order []string
	nodes map[string]*node
}

type node struct {
	succs   []string
	preds   []string
	succSet map[string]struct{}
	weight  int
}

// NewDigraph returns an empty graph.
func NewDigraph() *Digraph {
	return &Digraph{nodes: make(map[string]*node)}
}

// AddNode inserts the hash if not already present.
func (g *Digraph) AddNode(hash string) {
	if _, ok := g.nodes[hash]; ok {
		return
	}
	g.order = append(g.order, hash)
	g.nodes[hash] = &node{succSet: make(map[string]struct{}), weight: SentinelWeight}
}

// HasNode reports whether the hash is in the graph.
func (g *Digraph) HasNode(hash string) bool {
	_, ok := g.nodes[hash]
	return ok
}

// AddEdge inserts a parent→child edge, creating missing endpoints. The edge
// is rejected when it would close a cycle (corrupt upstream data claiming a
// descendant as parent); the return value reports whether it was added.
func (g *Digraph) AddEdge(parent, child string) bool {
	if parent == child {
		return false
	}
	g.AddNode(parent)
	g.AddNode(child)
	p := g.nodes[parent]
	if _, dup := p.succSet[child]; dup {
		return true
	}
	if g.reachable(child, parent) {
		return false
	}
	p.succSet[child] = struct{}{}
	p.succs = append(p.succs, child)
	c := g.nodes[child]
	c.preds = append(c.preds, parent)
	return true
}

// reachable reports whether to can be reached from from along successor edges.
func (g *Digraph) reachable(from, to string) bool {
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, s := range g.nodes[cur].succs {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				stack = append(stack, s)
			}
		}
	}
	return false
}

// Nodes returns all hashes in insertion order.
func (g *Digraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// NodeCount returns the number of nodes.
func (g *Digraph) NodeCount() int { return len(g.order) }

// EdgeCount returns the number of distinct edges.
func (g *Digraph) EdgeCount() int {
	n := 0
	for _, nd := range g.nodes {
		n += len(nd.succs)
	}
	return n
}

// Successors returns the children of a hash in insertion order.
func (g *Digraph) Successors(hash string) []string {
	if nd, ok := g.nodes[hash]; ok {
		return nd.succs
	}
	return nil
}

// Predecessors returns the parents of a hash in insertion order.
func (g *Digraph) Predecessors(hash string) []string {
	if nd, ok := g.nodes[hash]; ok {
		return nd.preds
	}
	return nil
}

// Weight returns the weight of a hash, or the sentinel for unknown hashes.
func (g *Digraph) Weight(hash string) int {
	if nd, ok := g.nodes[hash]; ok {
		return nd.weight
	}
	return SentinelWeight
}

// SetWeight assigns the weight of a known hash.
func (g *Digraph) SetWeight(hash string, w int) {
	if nd, ok := g.nodes[hash]; ok {
		nd.weight = w
	}
}
