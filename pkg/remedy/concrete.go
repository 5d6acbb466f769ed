package remedy

import (
	"fmt"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/heap"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

// txioRemediator discharges a dependence that flows through an I/O
// operation by routing both ends through the suspended-IO engine instead,
// which replays the operations in their original program order at commit
// time regardless of which worker issued them.
type txioRemediator struct{}

func (txioRemediator) Name() string { return "txio" }

func (txioRemediator) MemDep(q Query) *Remedy {
	if q.SrcAU == nil || q.DstAU == nil {
		return nil
	}

	if !q.Edge.LoopCarried {
		return nil
	}

	if q.SrcAU.Tag() != ctxau.AUIO && q.DstAU.Tag() != ctxau.AUIO {
		return nil
	}

	return &Remedy{
		Kind: TXIO,
		Name: "txio",
		Cost: CostTXIO,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditInsertTxIO, NodeID: string(q.Edge.Dst)})
		},
	}
}

func (txioRemediator) RegDep(Query) *Remedy { return nil }

// commutativeLibsRemediator discharges dependences through calls to
// library functions whose relative ordering is known not to affect
// observable behavior (a fixed name set, plus a cheap heuristic over
// unrecognized names).
type commutativeLibsRemediator struct{}

func (commutativeLibsRemediator) Name() string { return "commutative-libs" }

var commutativeLibraryNames = map[string]bool{
	"malloc": true, "calloc": true, "free": true, "realloc": true,
	"pthread_mutex_lock": true, "pthread_mutex_unlock": true,
}

// looksCommutative applies the same loose heuristic the original
// remediator used for names outside the fixed set: allocator and RNG
// entry points tend to be commutative regardless of exact symbol name.
func looksCommutative(name string) bool {
	if commutativeLibraryNames[name] {
		return true
	}

	for _, substr := range []string{"alloc", "random", "rand"} {
		if containsFold(name, substr) {
			return true
		}
	}

	return false
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	if subl == 0 || subl > sl {
		return subl == 0
	}

	for i := 0; i+subl <= sl; i++ {
		if equalFold(s[i:i+subl], substr) {
			return true
		}
	}

	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}

		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}

		if ca != cb {
			return false
		}
	}

	return true
}

func (c commutativeLibsRemediator) MemDep(q Query) *Remedy {
	if q.CalleeName == "" || !looksCommutative(q.CalleeName) {
		return nil
	}

	return &Remedy{
		Kind: CommutativeLibs,
		Name: fmt.Sprintf("commutative-libs(%s)", q.CalleeName),
		Cost: CostCommutativeLibs,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditWrapCommutative, NodeID: string(q.Edge.Dst),
				Detail: map[string]string{"callee": q.CalleeName}})
		},
	}
}

func (commutativeLibsRemediator) RegDep(Query) *Remedy { return nil }

// ptrResidueRemediator discharges a may-alias memory dependence whose two
// AUs carry disjoint observed pointer residue sets: no concrete value
// could have produced both, so the dependence is a profiling artifact of
// conservative static points-to analysis. The remedy's cost folds in the
// cost of the runtime residue check it inserts as a guard.
type ptrResidueRemediator struct{}

func (ptrResidueRemediator) Name() string { return "ptr-residue" }

const branchGuardCost = 5.0

func (ptrResidueRemediator) MemDep(q Query) *Remedy {
	if q.Profile == nil || q.SrcAU == nil || q.DstAU == nil {
		return nil
	}

	src, ok1 := q.Profile.Lookup(q.SrcAU)
	dst, ok2 := q.Profile.Lookup(q.DstAU)

	if !ok1 || !ok2 || src.Residue.Empty() || dst.Residue.Empty() {
		return nil
	}

	if !src.Residue.DisjointFrom(dst.Residue) {
		return nil
	}

	return &Remedy{
		Kind: PtrResidue,
		Name: "ptr-residue",
		Cost: CostPtrResidueBase + branchGuardCost,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditAddResidueCheck, NodeID: string(q.Edge.Dst)})
		},
	}
}

func (ptrResidueRemediator) RegDep(Query) *Remedy { return nil }

// localityRemediator discharges a dependence between two AUs the heap
// assignment has already placed in disjoint heaps or sub-heaps: once each
// worker's view of those heaps is isolated (Private/KillPrivate/
// SharePrivate) or read-only, the dependence cannot be observed across
// workers and needs no runtime check at all.
type localityRemediator struct{}

func (localityRemediator) Name() string { return "locality" }

func (localityRemediator) MemDep(q Query) *Remedy {
	if q.Heap == nil || q.SrcAU == nil || q.DstAU == nil {
		return nil
	}

	if !q.Heap.Disjoint(q.SrcAU, q.DstAU) {
		return nil
	}

	surcharge := localitySurcharge[surchargeKindFor(q.Heap, q.DstAU)]

	return &Remedy{
		Kind: Locality,
		Name: "locality",
		Cost: CostLocalityBase + surcharge,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditMigrateHeap, NodeID: string(q.Edge.Dst)})
		},
	}
}

func surchargeKindFor(a *heap.Assignment, au *ctxau.AU) LocalitySurchargeKind {
	switch a.KindOf(au) {
	case heap.Private:
		return SurchargePrivate
	case heap.KillPrivate:
		return SurchargeKillPrivate
	case heap.SharePrivate:
		return SurchargeSharePrivate
	default:
		return SurchargeLocal
	}
}

func (localityRemediator) RegDep(Query) *Remedy { return nil }

// shortLivedAARemediator discharges a dependence between two AUs the
// profiler classified as short-lived: instances never survive past the
// iteration that created them, so per-worker copies can never alias
// across iterations regardless of what static alias analysis concluded.
type shortLivedAARemediator struct{}

func (shortLivedAARemediator) Name() string { return "short-lived-aa" }

func (shortLivedAARemediator) MemDep(q Query) *Remedy {
	if q.Profile == nil || q.SrcAU == nil || q.DstAU == nil {
		return nil
	}

	src, ok1 := q.Profile.Lookup(q.SrcAU)
	dst, ok2 := q.Profile.Lookup(q.DstAU)

	if !ok1 || !ok2 {
		return nil
	}

	if src.Classification != profiler.ShortLived || dst.Classification != profiler.ShortLived {
		return nil
	}

	return &Remedy{
		Kind: ShortLivedAA,
		Name: "short-lived-aa",
		Cost: CostShortLivedAA,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditPrivatizeShortLived, NodeID: string(q.Edge.Dst)})
		},
	}
}

func (shortLivedAARemediator) RegDep(Query) *Remedy { return nil }

// controlSpeculationRemediator discharges a control dependence by
// speculating past it: workers assume the more-likely branch direction
// and a misspeculation rolls back, exactly like a memory-dependence
// violation. A deeply-nested branch costs more because misprediction
// there discards proportionally more speculative work.
type controlSpeculationRemediator struct{}

func (controlSpeculationRemediator) Name() string { return "control-speculation" }

func (controlSpeculationRemediator) MemDep(Query) *Remedy { return nil }

func (controlSpeculationRemediator) RegDep(q Query) *Remedy {
	if q.Edge.Kind != pdg.EdgeControl {
		return nil
	}

	cost := CostControlSpeculationBase
	if q.DeepControlNest {
		cost = CostControlSpeculationExpensive
	}

	return &Remedy{
		Kind: ControlSpeculation,
		Name: "control-speculation",
		Cost: cost,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditInsertControlSpecCheck, NodeID: string(q.Edge.Dst)})
		},
	}
}

// reductionRemediator discharges a commutative-associative accumulation's
// loop-carried dependence by marking it to execute intra-iteration with a
// per-worker partial and combining partials at commit time, rather than
// erasing the dependence outright.
type reductionRemediator struct{}

func (reductionRemediator) Name() string { return "reduction" }

func (reductionRemediator) MemDep(q Query) *Remedy {
	if !q.IsReductionPattern {
		return nil
	}

	return &Remedy{
		Kind: Reduction,
		Name: "reduction",
		Cost: CostReduction,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditMarkIntraIterationReduction, NodeID: string(q.Edge.Dst)})
		},
	}
}

func (reductionRemediator) RegDep(q Query) *Remedy {
	if !q.IsReductionPattern {
		return nil
	}

	return &Remedy{
		Kind: Reduction,
		Name: "reduction",
		Cost: CostReduction,
		Edge: q.Edge,
		Apply: func(l *EditLog) {
			l.Record(Edit{Kind: EditMarkIntraIterationReduction, NodeID: string(q.Edge.Dst)})
		},
	}
}
