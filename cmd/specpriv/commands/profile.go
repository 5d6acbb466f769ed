package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

// NewProfileCommand builds the "profile" subcommand: it replays a
// newline-delimited JSON allocation/access trace through a profiler.Profiler
// and writes the resulting points-to report to disk.
func NewProfileCommand() *cobra.Command {
	var eventsPath string
	var outPath string
	var debugTrace bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Replay an allocation/access trace into a points-to profile",
		Long: `profile reads a newline-delimited JSON trace of function/loop entry
and exit, allocation, free, points-to, and load/store events, replays it
through the allocation-unit profiler, and writes the resulting report so
the critic and remediator can consult it at plan time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfile(cmd.Context(), eventsPath, outPath, debugTrace)
		},
	}

	cmd.Flags().StringVarP(&eventsPath, "events", "e", "", "path to the newline-delimited JSON trace file (required)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "profile.report", "path to write the points-to report to")
	cmd.Flags().BoolVar(&debugTrace, "debug-trace", false, "force span sampling regardless of the configured sampler")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func runProfile(ctx context.Context, eventsPath, outPath string, debugTrace bool) error {
	providers, err := initObservability(observability.ModeProfile, debugTrace)
	if err != nil {
		return fmt.Errorf("profile: init observability: %w", err)
	}
	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	ctx, span := providers.Tracer.Start(ctx, "specpriv.profile")
	defer span.End()

	f, err := os.Open(eventsPath)
	if err != nil {
		return fmt.Errorf("profile: opening trace file: %w", err)
	}
	defer f.Close()

	mgr := ctxau.NewManager()
	prof := profiler.New()

	if err := replayTrace(f, mgr, prof); err != nil {
		return err
	}

	prof.FinalizeLiveObjects()

	report := profiler.BuildReport(prof)

	if err := report.Save(outPath); err != nil {
		return fmt.Errorf("profile: saving report to %s: %w", outPath, err)
	}

	providers.Logger.InfoContext(ctx, "wrote points-to report", "path", outPath)
	fmt.Fprintf(os.Stdout, "wrote points-to report to %s\n", outPath)

	return nil
}
