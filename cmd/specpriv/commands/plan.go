package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liberty-specpriv/specpriv/pkg/critic"
	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/pdg"
	"github.com/liberty-specpriv/specpriv/pkg/perfmodel"
)

// NewPlanCommand builds the "plan" subcommand: it runs one of the two
// critics over a serialized loop dependence graph and prints the verdict.
//
// The input graph is expected to already carry remedy annotations (each
// discharged edge's Removable/RemedyCost/RemedyName populated) since the
// remediator set's queries need IR-level operand and allocation-unit
// information this command's plain graph format has no way to carry; a
// caller that wants remedy discharge performed as part of planning must
// annotate the graph upstream before handing it to this command.
func NewPlanCommand() *cobra.Command {
	var graphPath string
	var strategy string
	var workers int
	var debugTrace bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run the critic over a loop's dependence graph",
		Long: `plan reads a JSON-serialized loop dependence graph, runs either the
DOALL or PS-DSWP critic over it, and prints the resulting plan: its
feasibility, stage partition, and estimated speedup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.Context(), graphPath, strategy, workers, debugTrace)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "path to the JSON-serialized dependence graph (required)")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "doall", "critic to run: doall or psdswp")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "worker count the speedup estimate is computed for")
	cmd.Flags().BoolVar(&debugTrace, "debug-trace", false, "force span sampling regardless of the configured sampler")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func runPlan(ctx context.Context, graphPath, strategy string, workers int, debugTrace bool) error {
	providers, err := initObservability(observability.ModePlan, debugTrace)
	if err != nil {
		return fmt.Errorf("plan: init observability: %w", err)
	}
	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	_, span := providers.Tracer.Start(ctx, "specpriv.plan")
	defer span.End()

	g, err := loadGraph(graphPath)
	if err != nil {
		return err
	}

	est := perfmodel.UniformEstimator{}

	var verdict critic.Criticism

	switch strategy {
	case "doall":
		verdict = critic.DOALL(g, est, workers)
	case "psdswp":
		verdict = critic.PSDSWP(g, est, workers)
	default:
		return fmt.Errorf("plan: unknown strategy %q, want doall or psdswp", strategy)
	}

	printCriticism(os.Stdout, verdict)

	if !verdict.Feasible {
		return fmt.Errorf("plan: %s infeasible: %s", verdict.Kind, verdict.Reason)
	}

	return nil
}

func loadGraph(path string) (*pdg.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: reading graph file: %w", err)
	}

	var g pdg.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("plan: decoding graph: %w", err)
	}

	return &g, nil
}

func printCriticism(w *os.File, c critic.Criticism) {
	fmt.Fprintf(w, "plan: %s\n", c.Kind)

	if !c.Feasible {
		fmt.Fprintf(w, "  feasible: false (%s)\n", c.Reason)

		return
	}

	fmt.Fprintf(w, "  feasible: true\n")
	fmt.Fprintf(w, "  speedup:  %.2fx\n", c.Speedup)
	fmt.Fprintf(w, "  stages:   %d\n", len(c.Stages))

	for i, stage := range c.Stages {
		kind := "parallel"
		if stage.Sequential {
			kind = "sequential"
		}
		if stage.Replicated {
			kind = "replicated-prefix"
		}

		fmt.Fprintf(w, "    stage %d (%s): %d SCCs\n", i, kind, len(stage.SCCs))
	}

	fmt.Fprintf(w, "  remedies: %d\n", len(c.Remedies))

	for _, e := range c.Remedies {
		fmt.Fprintf(w, "    %s -> %s via %s (cost %.2f)\n", e.Src, e.Dst, e.RemedyName, e.RemedyCost)
	}
}
