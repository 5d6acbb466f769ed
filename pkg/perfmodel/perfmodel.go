// Package perfmodel defines the performance-estimator interface the Critic
// consumes. Building a real estimator from profile data is an external
// collaborator's job; this package also provides a small synthetic
// estimator used by tests and by callers that have nothing better.
package perfmodel

import "github.com/liberty-specpriv/specpriv/pkg/pdg"

// Estimator assigns a relative weight to a node or SCC, and a speedup
// estimate to a whole plan. Weights are opaque scalars compared only to
// each other: they serve as the min-cut flow graph's edge weights and
// feed the DOALL critic's final speedup estimate.
type Estimator interface {
	// Weight returns the estimated per-iteration cost of a single SCC, used
	// as the edge weight in the min-cut flow graph that partitions stages.
	Weight(g *pdg.Graph, sccIndex int) float64
	// Speedup estimates end-to-end speedup for a fully-formed plan, given
	// the number of workers available to the parallel portion.
	Speedup(g *pdg.Graph, workers int) float64
}

// UniformEstimator assigns every SCC a weight proportional to its
// instruction count, and a speedup estimate following Amdahl's law with the
// caller-supplied parallel fraction. It is a deterministic stand-in used by
// tests and by callers without a profile-derived model.
type UniformEstimator struct {
	// ParallelFraction is the fraction of per-iteration work assumed
	// parallelizable, in (0,1]. Defaults to 0.9 if zero.
	ParallelFraction float64
}

func (u UniformEstimator) fraction() float64 {
	if u.ParallelFraction <= 0 {
		return 0.9
	}

	return u.ParallelFraction
}

// Weight returns the SCC's instruction count as its weight.
func (u UniformEstimator) Weight(g *pdg.Graph, sccIndex int) float64 {
	if sccIndex < 0 || sccIndex >= len(g.SCCs) {
		return 0
	}

	return float64(len(g.SCCs[sccIndex].Nodes))
}

// Speedup applies Amdahl's law: 1 / ((1-p) + p/workers).
func (u UniformEstimator) Speedup(_ *pdg.Graph, workers int) float64 {
	if workers < 1 {
		workers = 1
	}

	p := u.fraction()

	return 1.0 / ((1 - p) + p/float64(workers))
}
