package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
	"github.com/liberty-specpriv/specpriv/pkg/remedy"
)

// nodeRef names the allocation unit one PDG node touches, the textual
// interchange format a real IR-level analysis pass would emit for each
// node instead of the bare NodeID the graph format otherwise carries.
type nodeRef struct {
	Func  string `json:"func"`
	AUTag string `json:"au_tag"`
	Value string `json:"value"`
}

// NewRemedyCommand builds the "remedy" subcommand: it annotates a loop
// dependence graph's edges with the cheapest remedy each one admits,
// writing the annotated graph back out for the plan command to consume.
func NewRemedyCommand() *cobra.Command {
	var graphPath string
	var nodesPath string
	var profilePath string
	var outPath string
	var debugTrace bool

	cmd := &cobra.Command{
		Use:   "remedy",
		Short: "Annotate a dependence graph's edges with discharging remedies",
		Long: `remedy reads a JSON-serialized loop dependence graph and a node-to-
allocation-unit map, proposes a remedy for every edge the catalog of
remediators can discharge, and writes the annotated graph back out so
plan can build a feasible DOALL or PS-DSWP partition from it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemedy(cmd.Context(), graphPath, nodesPath, profilePath, outPath, debugTrace)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "path to the JSON-serialized dependence graph (required)")
	cmd.Flags().StringVarP(&nodesPath, "nodes", "n", "", "path to a JSON map of NodeID to allocation-unit reference (required)")
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "optional points-to report from the profile command")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "path to write the annotated graph to (required)")
	cmd.Flags().BoolVar(&debugTrace, "debug-trace", false, "force span sampling regardless of the configured sampler")
	_ = cmd.MarkFlagRequired("graph")
	_ = cmd.MarkFlagRequired("nodes")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runRemedy(ctx context.Context, graphPath, nodesPath, profilePath, outPath string, debugTrace bool) error {
	providers, err := initObservability(observability.ModeRemedy, debugTrace)
	if err != nil {
		return fmt.Errorf("remedy: init observability: %w", err)
	}
	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	_, span := providers.Tracer.Start(ctx, "specpriv.remedy")
	defer span.End()

	g, err := loadGraph(graphPath)
	if err != nil {
		return err
	}

	nodeAUs, err := loadNodeRefs(nodesPath)
	if err != nil {
		return err
	}

	var report *profiler.Report
	if profilePath != "" {
		report, err = profiler.Load(profilePath)
		if err != nil {
			return fmt.Errorf("remedy: loading profile: %w", err)
		}
	}

	mgr := ctxau.NewManager()
	aus := resolveNodeAUs(mgr, nodeAUs)

	build := func(e pdg.Edge) remedy.Query {
		return remedy.Query{
			SrcAU:   aus[e.Src],
			DstAU:   aus[e.Dst],
			Profile: report,
		}
	}

	remedy.AnnotateGraph(g, build, remedy.Catalog())

	discharged := 0
	for _, e := range g.Edges {
		if e.Removable {
			discharged++
		}
	}

	providers.Logger.InfoContext(ctx, "annotated graph", "edges", len(g.Edges), "discharged", discharged)
	fmt.Fprintf(os.Stdout, "remedy: discharged %d of %d edges\n", discharged, len(g.Edges))

	return saveGraph(g, outPath)
}

func loadNodeRefs(path string) (map[pdg.NodeID]nodeRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("remedy: reading node reference file: %w", err)
	}

	var refs map[pdg.NodeID]nodeRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("remedy: decoding node references: %w", err)
	}

	return refs, nil
}

func resolveNodeAUs(mgr *ctxau.Manager, refs map[pdg.NodeID]nodeRef) map[pdg.NodeID]*ctxau.AU {
	aus := make(map[pdg.NodeID]*ctxau.AU, len(refs))

	for node, ref := range refs {
		tag, ok := auTagByName[ref.AUTag]
		if !ok {
			tag = ctxau.AUUnknown
		}

		ctx := mgr.NewFunctionCtx(ref.Func)
		aus[node] = mgr.FoldAU(tag, ref.Value, ctx)
	}

	return aus
}

func saveGraph(g *pdg.Graph, path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("remedy: encoding annotated graph: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("remedy: writing annotated graph to %s: %w", path, err)
	}

	return nil
}
