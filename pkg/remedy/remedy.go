// Package remedy implements the Remediator set: a fixed catalogue of
// techniques that can discharge an individual PDG dependence edge so the
// Critic can treat it as removed when building a parallelization plan.
package remedy

import "github.com/liberty-specpriv/specpriv/pkg/pdg"

// Kind identifies which remediation technique a Remedy applies.
type Kind int

const (
	TXIO Kind = iota
	CommutativeLibs
	PtrResidue
	Locality
	ShortLivedAA
	ControlSpeculation
	Reduction
)

func (k Kind) String() string {
	switch k {
	case TXIO:
		return "TXIO"
	case CommutativeLibs:
		return "CommutativeLibs"
	case PtrResidue:
		return "PtrResidue"
	case Locality:
		return "Locality"
	case ShortLivedAA:
		return "ShortLivedAA"
	case ControlSpeculation:
		return "ControlSpeculation"
	case Reduction:
		return "Reduction"
	default:
		return "?"
	}
}

// Fixed base costs per remedy kind, used as the default weight a remedy
// contributes to an edge before any per-instance surcharge. Lower cost
// means cheaper/safer to apply; the critic prefers the cheapest remedy
// that discharges a given edge.
const (
	CostTXIO                   = 20.0
	CostCommutativeLibs        = 15.0
	CostPtrResidueBase         = 60.0
	CostLocalityBase           = 50.0
	CostShortLivedAA           = 51.0
	CostControlSpeculationBase = 40.0
	CostControlSpeculationExpensive = 90.0
	CostReduction               = 45.0
)

// LocalitySurchargeKind selects a per-heap-kind premium on top of CostLocalityBase,
// since migrating an AU into a Private or SharePrivate heap is far more
// invasive than one already Local.
type LocalitySurchargeKind int

const (
	SurchargePrivate LocalitySurchargeKind = iota
	SurchargeLocal
	SurchargeKillPrivate
	SurchargeSharePrivate
)

var localitySurcharge = map[LocalitySurchargeKind]float64{
	SurchargePrivate:      100,
	SurchargeLocal:        1,
	SurchargeKillPrivate:  5,
	SurchargeSharePrivate: 35,
}

// Remedy is a concrete proposal to discharge one PDG edge: which technique,
// what it costs, and the edit it contributes to the transform plan once
// selected.
type Remedy struct {
	Kind Kind
	Name string
	Cost float64
	Edge pdg.Edge

	// Apply records the edit this remedy needs performed if selected. It
	// is appended to, never executed directly: the transform stage is what
	// turns an EditLog into an actual rewrite plan.
	Apply func(*EditLog)
}

// Less imposes the total order the critic resolves cost ties with: lower
// Cost wins; Cost ties break by Kind (stable precedence TXIO <
// CommutativeLibs < PtrResidue < Locality < ShortLivedAA <
// ControlSpeculation < Reduction), and remaining ties break by Name so two
// runs over the same PDG always pick the same remedy.
func Less(a, b Remedy) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}

	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}

	return a.Name < b.Name
}

// Cheapest returns the lowest-cost remedy in candidates under Less, or nil
// if candidates is empty.
func Cheapest(candidates []Remedy) *Remedy {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]

	for _, c := range candidates[1:] {
		if Less(c, best) {
			best = c
		}
	}

	return &best
}
