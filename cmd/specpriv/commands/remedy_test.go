package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
)

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestRunRemedyAnnotatesDischargeableEdge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	g := pdg.Graph{
		SCCs: []pdg.SCC{
			{ID: 0, Nodes: []pdg.NodeID{"store"}},
			{ID: 1, Nodes: []pdg.NodeID{"load"}},
		},
		IVSCCIndex: -1,
		Edges: []pdg.Edge{
			{Src: "store", Dst: "load", Kind: pdg.EdgeMemory, Dir: pdg.RAW, LoopCarried: true},
		},
	}

	graphPath := writeJSON(t, dir, "graph.json", g)

	nodes := map[string]nodeRef{
		"store": {Func: "loopBody", AUTag: "io", Value: "%node"},
		"load":  {Func: "loopBody", AUTag: "io", Value: "%node"},
	}
	nodesPath := writeJSON(t, dir, "nodes.json", nodes)

	outPath := filepath.Join(dir, "annotated.json")

	err := runRemedy(context.Background(), graphPath, nodesPath, "", outPath, false)
	require.NoError(t, err)

	annotated, err := loadGraph(outPath)
	require.NoError(t, err)
	require.Len(t, annotated.Edges, 1)
	assert.True(t, annotated.Edges[0].Removable)
	assert.Equal(t, "txio", annotated.Edges[0].RemedyName)
}

func TestRunRemedyMissingGraphErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nodesPath := writeJSON(t, dir, "nodes.json", map[string]nodeRef{})

	err := runRemedy(context.Background(), filepath.Join(dir, "missing.json"), nodesPath, "", filepath.Join(dir, "out.json"), false)
	assert.Error(t, err)
}

func TestResolveNodeAUsFoldsRepeatedValues(t *testing.T) {
	t.Parallel()

	mgr := ctxau.NewManager()

	refs := map[pdg.NodeID]nodeRef{
		"a": {Func: "f", AUTag: "heap", Value: "%x"},
		"b": {Func: "f", AUTag: "heap", Value: "%x"},
	}

	aus := resolveNodeAUs(mgr, refs)
	assert.True(t, aus["a"].Equal(aus["b"]))
}
