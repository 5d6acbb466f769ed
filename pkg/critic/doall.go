package critic

import (
	"fmt"

	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/perfmodel"
)

// DOALL asks whether g's loop can run with every iteration fully
// independent: every loop-carried dependence other than the induction
// variable's own chain must already be discharged by a remedy. workers is
// the worker count the speedup estimate is computed for.
func DOALL(g *pdg.Graph, est perfmodel.Estimator, workers int) Criticism {
	var used []pdg.Edge

	for _, e := range g.Edges {
		if !e.LoopCarried {
			continue
		}

		srcSCC, dstSCC := g.SCCOf(e.Src), g.SCCOf(e.Dst)
		if srcSCC == g.IVSCCIndex && dstSCC == g.IVSCCIndex {
			continue
		}

		if !e.Removable {
			return Infeasible(DOALLPlan, fmt.Sprintf(
				"loop-carried dependence %s -> %s has no applicable remedy", e.Src, e.Dst))
		}

		used = append(used, e)
	}

	all := make([]int, len(g.SCCs))
	for i := range all {
		all[i] = i
	}

	return Criticism{
		Kind:     DOALLPlan,
		Stages:   []Stage{{SCCs: all, Sequential: false}},
		Remedies: used,
		Speedup:  est.Speedup(g, workers),
		Feasible: true,
	}
}
