// Package critic implements the two parallelization-plan critics: DOALL,
// which asks whether every loop-carried dependence outside the induction
// variable can be discharged outright, and PS-DSWP, which partitions the
// loop body into a pipeline of stages when it cannot.
package critic

import "github.com/liberty-specpriv/specpriv/pkg/pdg"

// PlanKind distinguishes the two parallelization strategies a Criticism
// can propose.
type PlanKind int

const (
	DOALLPlan PlanKind = iota
	PSDSWPPlan
)

func (k PlanKind) String() string {
	if k == DOALLPlan {
		return "DOALL"
	}

	return "PS-DSWP"
}

// Stage is one pipeline stage of a PS-DSWP plan, or the loop's entire SCC
// set for a DOALL plan (a single implicitly-parallel stage).
type Stage struct {
	SCCs       []int
	Sequential bool // true for a stage that must run as one serialized unit
	Replicated bool // true for a light sequential prefix run redundantly by every worker
}

// Criticism is a critic's verdict: either a usable plan with its stage
// partition, the remedies it depends on, and an estimated speedup, or an
// infeasibility verdict with a reason a caller can log.
type Criticism struct {
	Kind     PlanKind
	Stages   []Stage
	Remedies []pdg.Edge // the discharged edges, carrying their chosen remedy
	Speedup  float64
	Feasible bool
	Reason   string
}

// Infeasible builds a non-feasible Criticism carrying reason, the sentinel
// both critics return when no plan respects the graph's invariants.
func Infeasible(kind PlanKind, reason string) Criticism {
	return Criticism{Kind: kind, Feasible: false, Reason: reason}
}
