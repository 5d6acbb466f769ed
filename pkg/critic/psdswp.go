package critic

import (
	"sort"

	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/perfmodel"
)

// ReplicablePrefixWeightThresholdPercent is the fraction of total loop
// weight below which a light sequential prefix stage is converted into a
// replicated-prefix stage (every worker runs it redundantly) rather than
// staying a true pipeline stage of its own. The original description of
// this threshold was ambiguous between 2% and 10%; this build follows the
// 10% figure and exposes it as an overridable package variable.
var ReplicablePrefixWeightThresholdPercent = 10.0

// expensiveCriticismCostThreshold bounds how much cumulative remedy cost a
// stage boundary may carry before avoidExpensiveCriticisms merges the two
// stages back together: a boundary this costly would spend more in
// runtime checks than the pipeline stands to gain from splitting there.
const expensiveCriticismCostThreshold = 150.0

// PSDSWP partitions g's loop body into a sequential/parallel/sequential
// pipeline by selecting, via min-cut over a split-vertex flow network, the
// single maximum-weight set of parallel-eligible SCCs that can run as one
// DOALL stage without breaking pipeline acyclicity. Everything left over
// collapses into a sequential stage preceding or following it.
func PSDSWP(g *pdg.Graph, est perfmodel.Estimator, workers int) Criticism {
	stages, ok := minCutPartition(g, est)
	if !ok {
		return Infeasible(PSDSWPPlan, "no parallel-eligible SCC survives the min-cut constraints")
	}

	classifyStages(g, stages)
	stages = adjustForRegLCFromSeqToPar(g, stages)
	stages = avoidExpensiveCriticisms(g, stages)
	stages = convertRepLightFirstSeqToRepPrefix(g, est, stages)

	remedies, ok := crossStageRemedies(g, stages)
	if !ok {
		return Infeasible(PSDSWPPlan, "violated pipeline property")
	}

	return Criticism{
		Kind:     PSDSWPPlan,
		Stages:   stages,
		Remedies: remedies,
		Speedup:  est.Speedup(g, workers),
		Feasible: true,
	}
}

// eligibleAndBad partitions SCC indices into "parallel-eligible" (no
// internal loop-carried edge, and not the induction-variable SCC, which
// must always execute sequentially) and the rest.
func eligibleAndBad(g *pdg.Graph) (eligible, bad []int) {
	for i := range g.SCCs {
		if i == g.IVSCCIndex || g.LoopCarriedWithin(i) {
			bad = append(bad, i)
			continue
		}

		eligible = append(eligible, i)
	}

	return eligible, bad
}

// sccAdjacency collapses every edge of g to SCC granularity, dropping
// self-edges, to build the SCCDAG's adjacency.
func sccAdjacency(g *pdg.Graph) map[int]map[int]bool {
	adj := make(map[int]map[int]bool)

	for _, e := range g.Edges {
		a, b := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		if a < 0 || b < 0 || a == b {
			continue
		}

		if adj[a] == nil {
			adj[a] = make(map[int]bool)
		}

		adj[a][b] = true
	}

	return adj
}

// reachableSets returns, for each of the n SCC indices, the set of indices
// reachable from it along adj (excluding itself).
func reachableSets(adj map[int]map[int]bool, n int) []map[int]bool {
	out := make([]map[int]bool, n)

	for i := 0; i < n; i++ {
		seen := make(map[int]bool)
		queue := []int{i}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			for next := range adj[cur] {
				if !seen[next] {
					seen[next] = true

					queue = append(queue, next)
				}
			}
		}

		out[i] = seen
	}

	return out
}

// topoOrder returns a topological ordering of SCC indices [0,n) over adj,
// breaking ties by index so the result is deterministic.
func topoOrder(adj map[int]map[int]bool, n int) []int {
	indeg := make([]int, n)
	for _, outs := range adj {
		for t := range outs {
			indeg[t]++
		}
	}

	var ready []int

	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)

	for len(ready) > 0 {
		sort.Ints(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		var next []int

		for t := range adj[cur] {
			indeg[t]--
			if indeg[t] == 0 {
				next = append(next, t)
			}
		}

		ready = append(ready, next...)
	}

	return order
}

// minCutPartition builds the L(s)/R(s) split-vertex flow network described
// by the construction's acyclicity and parallel-stage constraints and
// returns the resulting stage list: an optional leading sequential stage,
// the selected parallel stage, and an optional trailing sequential stage.
// ok is false when no eligible SCC survives on both its L and R vertex,
// i.e. no parallel stage exists.
func minCutPartition(g *pdg.Graph, est perfmodel.Estimator) ([]Stage, bool) {
	n := len(g.SCCs)

	eligible, bad := eligibleAndBad(g)
	if len(eligible) == 0 {
		return nil, false
	}

	adj := sccAdjacency(g)
	fwd := reachableSets(adj, n)

	elig := make(map[int]bool, len(eligible))
	for _, s := range eligible {
		elig[s] = true
	}

	pos := make(map[int]int, len(eligible))
	for i, s := range eligible {
		pos[s] = i
	}

	lOf := func(s int) int { return 2 * pos[s] }
	rOf := func(s int) int { return 2*pos[s] + 1 }

	numNodes := 2*len(eligible) + 2
	source, sink := numNodes-2, numNodes-1
	fg := newFlowGraph(numNodes)

	// Source->L(s) and L(s)->R(s) are uncapped and only R(s)->Sink carries
	// the finite perf(s) weight. Because every finite edge sits on the sink
	// side, max-flow can only saturate R(s)->Sink edges, so after the cut
	// every eligible SCC's L and R are still reachable from Source and the
	// whole eligible set becomes the parallel stage. The constraint edges
	// below add further uncapped paths but never exclude an SCC; the
	// stage classification, the adjustment passes and crossStageRemedies
	// are what reject an unsafe grouping.
	for _, s := range eligible {
		w := est.Weight(g, s)
		fg.addEdge(source, lOf(s), Infinite)
		fg.addEdge(lOf(s), rOf(s), Infinite)
		fg.addEdge(rOf(s), sink, w)
	}

	// Acyclicity constraint: for every bad SCC b, tie every eligible pair
	// (a,c) with a preceding b and c following b, so the cut can never
	// select a while excluding c across a non-eligible SCC sitting
	// between them.
	for _, b := range bad {
		for _, a := range eligible {
			if !fwd[a][b] {
				continue
			}

			for _, c := range eligible {
				if a == c || !fwd[b][c] {
					continue
				}

				fg.addEdge(lOf(a), rOf(c), Infinite)
			}
		}
	}

	// Parallel-stage constraint: for every loop-carried edge between two
	// eligible SCCs s1->s2, tie {s1, eligible preds of s1}.L to {s2,
	// eligible succs of s2}.R.
	for _, e := range g.Edges {
		if !e.LoopCarried {
			continue
		}

		s1, s2 := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		if s1 < 0 || s2 < 0 || s1 == s2 || !elig[s1] || !elig[s2] {
			continue
		}

		froms := []int{s1}
		for _, a := range eligible {
			if a != s1 && fwd[a][s1] {
				froms = append(froms, a)
			}
		}

		tos := []int{s2}
		for _, c := range eligible {
			if c != s2 && fwd[s2][c] {
				tos = append(tos, c)
			}
		}

		for _, a := range froms {
			for _, c := range tos {
				fg.addEdge(lOf(a), rOf(c), Infinite)
			}
		}
	}

	fg.maxFlow(source, sink)
	reach := fg.minCutReachable(source)

	var parallel []int

	for _, s := range eligible {
		if reach[lOf(s)] && reach[rOf(s)] {
			parallel = append(parallel, s)
		}
	}

	if len(parallel) == 0 {
		return nil, false
	}

	sort.Ints(parallel)

	return assembleStages(adj, n, parallel), true
}

// assembleStages buckets every SCC not in the chosen parallel set into a
// preceding or following sequential stage, pivoting on the parallel set's
// earliest point in a topological ordering of the SCCDAG.
func assembleStages(adj map[int]map[int]bool, n int, parallel []int) []Stage {
	order := topoOrder(adj, n)

	posInOrder := make(map[int]int, n)
	for i, s := range order {
		posInOrder[s] = i
	}

	inParallel := make(map[int]bool, len(parallel))
	minPos := len(order)

	for _, s := range parallel {
		inParallel[s] = true
		if posInOrder[s] < minPos {
			minPos = posInOrder[s]
		}
	}

	var first, last []int

	for i := 0; i < n; i++ {
		if inParallel[i] {
			continue
		}

		if posInOrder[i] < minPos {
			first = append(first, i)
		} else {
			last = append(last, i)
		}
	}

	sort.Ints(first)
	sort.Ints(last)

	var stages []Stage

	if len(first) > 0 {
		stages = append(stages, Stage{SCCs: first, Sequential: true})
	}

	stages = append(stages, Stage{SCCs: parallel})

	if len(last) > 0 {
		stages = append(stages, Stage{SCCs: last, Sequential: true})
	}

	return stages
}

// classifyStages marks each stage Sequential when it contains an
// undischarged loop-carried dependence fully inside it, or the
// induction-variable SCC; otherwise the stage's iterations are
// independent of each other and it runs DOALL-parallel.
func classifyStages(g *pdg.Graph, stages []Stage) {
	for i := range stages {
		stages[i].Sequential = stages[i].Sequential || stageIsSequential(g, stages[i])
	}
}

func stageIsSequential(g *pdg.Graph, s Stage) bool {
	members := make(map[int]bool, len(s.SCCs))
	for _, scc := range s.SCCs {
		members[scc] = true

		if scc == g.IVSCCIndex {
			return true
		}
	}

	for _, e := range g.Edges {
		if !e.LoopCarried || e.Removable {
			continue
		}

		a, b := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		if members[a] && members[b] {
			return true
		}
	}

	return false
}

// adjustForRegLCFromSeqToPar reclassifies a stage from sequential to
// parallel when every loop-carried edge forcing it sequential is a
// register dependence that a remedy (Reduction or Control-Speculation)
// already discharges at the register level, rather than a genuine memory
// ordering constraint.
func adjustForRegLCFromSeqToPar(g *pdg.Graph, stages []Stage) []Stage {
	for i, s := range stages {
		if !s.Sequential || containsIVSCC(g, s) {
			continue
		}

		members := make(map[int]bool, len(s.SCCs))
		for _, scc := range s.SCCs {
			members[scc] = true
		}

		onlyDischargedRegisterDeps := true

		for _, e := range g.Edges {
			if !e.LoopCarried {
				continue
			}

			a, b := g.SCCOf(e.Src), g.SCCOf(e.Dst)
			if !members[a] || !members[b] {
				continue
			}

			if !e.Removable || e.Kind != pdg.EdgeRegister {
				onlyDischargedRegisterDeps = false

				break
			}
		}

		if onlyDischargedRegisterDeps {
			stages[i].Sequential = false
		}
	}

	return stages
}

func containsIVSCC(g *pdg.Graph, s Stage) bool {
	for _, scc := range s.SCCs {
		if scc == g.IVSCCIndex {
			return true
		}
	}

	return false
}

// avoidExpensiveCriticisms merges adjacent stages whose shared boundary
// costs more in cumulative remedy overhead than a pipeline split is worth,
// trading a missed parallelization opportunity for a plan that does not
// spend more on checks than it gains in throughput.
func avoidExpensiveCriticisms(g *pdg.Graph, stages []Stage) []Stage {
	merged := []Stage{stages[0]}

	for i := 1; i < len(stages); i++ {
		boundaryCost := crossStageCost(g, merged[len(merged)-1], stages[i])

		if boundaryCost > expensiveCriticismCostThreshold {
			last := merged[len(merged)-1]
			merged[len(merged)-1] = Stage{
				SCCs:       append(append([]int(nil), last.SCCs...), stages[i].SCCs...),
				Sequential: true,
			}
		} else {
			merged = append(merged, stages[i])
		}
	}

	return merged
}

func crossStageCost(g *pdg.Graph, a, b Stage) float64 {
	aSet := make(map[int]bool, len(a.SCCs))
	for _, s := range a.SCCs {
		aSet[s] = true
	}

	bSet := make(map[int]bool, len(b.SCCs))
	for _, s := range b.SCCs {
		bSet[s] = true
	}

	total := 0.0

	for _, e := range g.Edges {
		x, y := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		if (aSet[x] && bSet[y]) || (aSet[y] && bSet[x]) {
			if e.Removable {
				total += e.RemedyCost
			}
		}
	}

	return total
}

// convertRepLightFirstSeqToRepPrefix converts a light sequential first
// stage into a replicated prefix: rather than occupying a pipeline stage
// of its own, every worker simply re-executes it redundantly, which is
// cheaper than paying for a dedicated stage and its queue when the stage's
// share of total loop weight is small.
func convertRepLightFirstSeqToRepPrefix(g *pdg.Graph, est perfmodel.Estimator, stages []Stage) []Stage {
	if len(stages) == 0 || !stages[0].Sequential {
		return stages
	}

	total := 0.0
	for _, scc := range allSCCIndices(g) {
		total += est.Weight(g, scc)
	}

	if total == 0 {
		return stages
	}

	first := 0.0
	for _, scc := range stages[0].SCCs {
		first += est.Weight(g, scc)
	}

	if first/total*100 <= ReplicablePrefixWeightThresholdPercent {
		stages[0].Sequential = false
		stages[0].Replicated = true
	}

	return stages
}

func allSCCIndices(g *pdg.Graph) []int {
	out := make([]int, len(g.SCCs))
	for i := range out {
		out[i] = i
	}

	return out
}

// crossStageRemedies walks the final stage assignment for criticism
// population: every edge that breaks the pipeline's no-backward-edge
// property, or that is loop-carried with both endpoints inside a stage
// marked Parallel, must already be Remedy-discharged. ok is false the
// moment one is not, the "violated pipeline property" abort case.
func crossStageRemedies(g *pdg.Graph, stages []Stage) (remedies []pdg.Edge, ok bool) {
	stageOf := make(map[int]int, len(g.SCCs))
	for i, s := range stages {
		for _, scc := range s.SCCs {
			stageOf[scc] = i
		}
	}

	for _, e := range g.Edges {
		a, b := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		sa, sb := stageOf[a], stageOf[b]

		backward := sb < sa
		carriedInsideParallel := e.LoopCarried && sa == sb && !stages[sa].Sequential

		if !backward && !carriedInsideParallel {
			continue
		}

		if !e.Removable {
			return nil, false
		}

		remedies = append(remedies, e)
	}

	return remedies, true
}
