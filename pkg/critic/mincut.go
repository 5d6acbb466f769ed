package critic

import "math"

// Infinite marks a flow-graph edge that must never be cut: used for edges
// whose removal would violate acyclicity or parallel-stage purity. It is a
// large finite sentinel rather than math.Inf so residual-capacity
// arithmetic stays well-defined.
const Infinite = 1e18

type flowEdge struct {
	to       int
	capacity float64
	flow     float64
	rev      int // index of the reverse edge in graph[to]
}

// flowGraph is a minimal Edmonds-Karp max-flow solver over a set of
// integer-labeled nodes, used to compute the minimum-cost set of
// non-infinite edges that separates source from sink (the PS-DSWP stage
// partition).
type flowGraph struct {
	adj [][]flowEdge
}

func newFlowGraph(n int) *flowGraph {
	return &flowGraph{adj: make([][]flowEdge, n)}
}

func (g *flowGraph) addEdge(u, v int, capacity float64) {
	g.adj[u] = append(g.adj[u], flowEdge{to: v, capacity: capacity, rev: len(g.adj[v])})
	g.adj[v] = append(g.adj[v], flowEdge{to: u, capacity: 0, rev: len(g.adj[u]) - 1})
}

// bfsAugment finds a shortest augmenting path from s to t, returning the
// parent edge used to reach each node, or nil if t is unreachable.
func (g *flowGraph) bfsAugment(s, t int) ([]int, []int) {
	n := len(g.adj)
	parentNode := make([]int, n)
	parentEdge := make([]int, n)

	for i := range parentNode {
		parentNode[i] = -1
	}

	parentNode[s] = s
	queue := []int{s}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for ei, e := range g.adj[u] {
			if e.capacity-e.flow > 1e-9 && parentNode[e.to] == -1 {
				parentNode[e.to] = u
				parentEdge[e.to] = ei
				queue = append(queue, e.to)
			}
		}
	}

	if parentNode[t] == -1 {
		return nil, nil
	}

	return parentNode, parentEdge
}

// MaxFlow runs Edmonds-Karp from s to t and returns the total flow.
func (g *flowGraph) maxFlow(s, t int) float64 {
	total := 0.0

	for {
		parentNode, parentEdge := g.bfsAugment(s, t)
		if parentNode == nil {
			break
		}

		// Find the bottleneck capacity along the augmenting path.
		bottleneck := math.Inf(1)
		for v := t; v != s; v = parentNode[v] {
			e := g.adj[parentNode[v]][parentEdge[v]]
			if res := e.capacity - e.flow; res < bottleneck {
				bottleneck = res
			}
		}

		for v := t; v != s; v = parentNode[v] {
			u := parentNode[v]
			ei := parentEdge[v]
			g.adj[u][ei].flow += bottleneck
			rev := g.adj[u][ei].rev
			g.adj[v][rev].flow -= bottleneck
		}

		total += bottleneck
	}

	return total
}

// minCutReachable returns the set of nodes reachable from s in the
// residual graph after maxFlow has been run; edges from a reachable node
// to an unreachable one are exactly the min cut.
func (g *flowGraph) minCutReachable(s int) []bool {
	n := len(g.adj)
	reachable := make([]bool, n)
	reachable[s] = true
	queue := []int{s}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for _, e := range g.adj[u] {
			if e.capacity-e.flow > 1e-9 && !reachable[e.to] {
				reachable[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}

	return reachable
}
