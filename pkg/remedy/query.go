package remedy

import (
	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/heap"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

// Query bundles everything a Remediator needs to decide whether it can
// discharge one PDG edge: the edge itself, the AUs its endpoints touch,
// and the optional heap assignment / profile data later remedies consult.
type Query struct {
	Edge pdg.Edge

	SrcAU, DstAU *ctxau.AU

	// CalleeName is set when the edge crosses a call instruction, for
	// remedies that key off a known library function's name.
	CalleeName string

	// IsReductionPattern is set by the caller when static analysis has
	// already recognized the edge as a commutative-associative
	// accumulation (e.g. sum += x), which is the only shape the Reduction
	// remedy is allowed to touch.
	IsReductionPattern bool

	// DeepControlNest is set when the control edge being considered
	// guards a branch nested more than two loops deep, the heuristic the
	// Control-Speculation remedy uses to decide it is "expensive" to
	// speculate past.
	DeepControlNest bool

	Heap    *heap.Assignment
	Profile *profiler.Report
}

// Remediator proposes a Remedy for a single dependence edge, or nil if the
// technique does not apply. MemDep handles memory dependences (RAW/WAR/WAW
// on a heap/stack/global AU); RegDep handles register/control dependences.
type Remediator interface {
	Name() string
	MemDep(q Query) *Remedy
	RegDep(q Query) *Remedy
}

// Catalog returns every remediator the runtime ships, in the fixed order
// their cost table entries were defined.
func Catalog() []Remediator {
	return []Remediator{
		txioRemediator{},
		commutativeLibsRemediator{},
		ptrResidueRemediator{},
		localityRemediator{},
		shortLivedAARemediator{},
		controlSpeculationRemediator{},
		reductionRemediator{},
	}
}

// Propose runs every remediator in cat against q for both memory and
// register/control dependences and returns every applicable Remedy, for
// the critic to hand to Cheapest.
func Propose(cat []Remediator, q Query) []Remedy {
	var out []Remedy

	for _, r := range cat {
		if q.Edge.Kind == pdg.EdgeControl {
			if rem := r.RegDep(q); rem != nil {
				out = append(out, *rem)
			}

			continue
		}

		if rem := r.MemDep(q); rem != nil {
			out = append(out, *rem)
		}

		if rem := r.RegDep(q); rem != nil {
			out = append(out, *rem)
		}
	}

	return out
}
