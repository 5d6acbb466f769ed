package critic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/critic"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/perfmodel"
)

func simpleGraph() *pdg.Graph {
	return &pdg.Graph{
		SCCs: []pdg.SCC{
			{ID: 0, Nodes: []pdg.NodeID{"iv"}},
			{ID: 1, Nodes: []pdg.NodeID{"body1"}},
			{ID: 2, Nodes: []pdg.NodeID{"body2"}},
		},
		IVSCCIndex: 0,
		Edges: []pdg.Edge{
			{Src: "iv", Dst: "body1", Kind: pdg.EdgeRegister},
			{Src: "body1", Dst: "body2", Kind: pdg.EdgeMemory},
		},
	}
}

func TestDOALLFeasibleWhenNoUndischargedLoopCarriedDeps(t *testing.T) {
	g := simpleGraph()
	g.Edges[1].LoopCarried = true
	g.Edges[1].Removable = true
	g.Edges[1].RemedyCost = 20
	g.Edges[1].RemedyName = "txio"

	c := critic.DOALL(g, perfmodel.UniformEstimator{}, 4)
	require.True(t, c.Feasible)
	assert.Equal(t, critic.DOALLPlan, c.Kind)
	require.Len(t, c.Stages, 1)
	assert.False(t, c.Stages[0].Sequential)
	assert.Greater(t, c.Speedup, 1.0)
}

func TestDOALLInfeasibleOnUndischargedLoopCarriedDep(t *testing.T) {
	g := simpleGraph()
	g.Edges[1].LoopCarried = true
	g.Edges[1].Removable = false

	c := critic.DOALL(g, perfmodel.UniformEstimator{}, 4)
	assert.False(t, c.Feasible)
	assert.NotEmpty(t, c.Reason)
}

func TestPSDSWPSplitsIntoPipelineStages(t *testing.T) {
	g := simpleGraph()
	// body1 -> body2 is a plain forward dependence (not loop-carried), so
	// both join the parallel stage, which follows the induction variable's
	// sequential stage.
	c := critic.PSDSWP(g, perfmodel.UniformEstimator{}, 4)

	require.True(t, c.Feasible)
	assert.GreaterOrEqual(t, len(c.Stages), 2)
}

func TestPSDSWPKeepsUndischargedLoopCarriedPairTogether(t *testing.T) {
	g := simpleGraph()
	g.Edges[1].LoopCarried = true
	g.Edges[1].Removable = false

	c := critic.PSDSWP(g, perfmodel.UniformEstimator{}, 4)
	if !c.Feasible {
		return
	}

	for _, s := range c.Stages {
		hasBody1, hasBody2 := false, false

		for _, scc := range s.SCCs {
			if scc == 1 {
				hasBody1 = true
			}

			if scc == 2 {
				hasBody2 = true
			}
		}

		if hasBody1 {
			assert.True(t, hasBody2, "an undischarged loop-carried dependence must keep its endpoints in the same stage")
		}
	}
}

func TestReplicablePrefixThresholdIsOverridable(t *testing.T) {
	saved := critic.ReplicablePrefixWeightThresholdPercent
	defer func() { critic.ReplicablePrefixWeightThresholdPercent = saved }()

	critic.ReplicablePrefixWeightThresholdPercent = 2
	assert.Equal(t, 2.0, critic.ReplicablePrefixWeightThresholdPercent)
}
