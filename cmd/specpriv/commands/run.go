package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/liberty-specpriv/specpriv/pkg/config"
	"github.com/liberty-specpriv/specpriv/pkg/heap"
	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/specrt"
	"github.com/liberty-specpriv/specpriv/pkg/txio"
)

// NewRunCommand builds the "run" subcommand: the same binary re-execs
// itself once per pipeline stage via specrt.SpawnWorkers, and each
// spawned copy recognizes its stage role from the environment and runs
// that stage's worker loop instead of spawning anything further.
func NewRunCommand() *cobra.Command {
	var iterations uint64
	var workers int
	var debugTrace bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn the speculative parallel worker processes",
		Long: `run spawns one process per pipeline stage, each running its share of
loop iterations against the versioned heap and committing through the
software queues once a dependence violation is ruled out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd.Context(), iterations, workers, debugTrace, metricsAddr)
		},
	}

	cmd.Flags().Uint64VarP(&iterations, "iterations", "n", 0, "total loop iteration count to run")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "stage count to spawn (defaults to the machine's worker count)")
	cmd.Flags().BoolVar(&debugTrace, "debug-trace", false, "force span sampling regardless of the configured sampler")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve a Prometheus /metrics endpoint at this address (e.g. :9090) from the top-level committer process")

	return cmd
}

func runRun(ctx context.Context, iterations uint64, workers int, debugTrace bool, metricsAddr string) error {
	providers, err := initObservability(observability.ModeRun, debugTrace)
	if err != nil {
		return fmt.Errorf("run: init observability: %w", err)
	}
	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	metrics, err := observability.NewRuntimeMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("run: building runtime metrics: %w", err)
	}

	if stageIndex, ok := specrt.IsWorkerProcess(); ok {
		return runWorkerStage(ctx, providers, metrics, stageIndex, iterations)
	}

	ctx, span := providers.Tracer.Start(ctx, "specpriv.run.spawn")
	defer span.End()

	if metricsAddr != "" {
		if err := serveMetrics(metricsAddr, providers); err != nil {
			return err
		}
	}

	if workers <= 0 {
		workers = config.DefaultRunConfig().Workers
	}

	cmds, resources, err := specrt.SpawnWorkers(workers, []string{fmt.Sprintf("SPECPRIV_ITERATIONS=%d", iterations)})
	if err != nil {
		return fmt.Errorf("run: spawning workers: %w", err)
	}

	waitErr := specrt.WaitAll(cmds)

	for _, r := range resources {
		if err := r.Close(); err != nil {
			providers.Logger.Warn("closing shared segment", "error", err)
		}

		if err := r.Unlink(); err != nil {
			providers.Logger.Warn("unlinking shared segment", "error", err)
		}
	}

	if waitErr != nil {
		return fmt.Errorf("run: waiting for workers: %w", waitErr)
	}

	providers.Logger.InfoContext(ctx, "all stages exited cleanly", "workers", workers)
	fmt.Fprintln(os.Stdout, "run: all stages exited cleanly")

	return nil
}

func runWorkerStage(
	ctx context.Context,
	providers observability.Providers,
	metrics *observability.RuntimeMetrics,
	stageIndex int,
	iterations uint64,
) error {
	logger := providers.Logger.With("stage", stageIndex)

	resources, inQueue, err := specrt.OpenStageResources(stageIndex)
	if err != nil {
		return fmt.Errorf("run: stage %d: opening shared segments: %w", stageIndex, err)
	}
	defer func() {
		if err := resources.Close(); err != nil {
			logger.Warn("closing shared segments", "error", err)
		}
	}()

	tree := txio.NewTree()
	detector := specrt.NewTxDetector(stageIndex, tree, txio.TimeVector{0})
	w := specrt.NewWorker(stageIndex, detector, logger)

	for iter := uint64(0); iter < iterations; iter++ {
		if err := w.BeginIter(iter); err != nil {
			return fmt.Errorf("run: stage %d: %w", stageIndex, err)
		}

		if inQueue != nil {
			if _, err := inQueue.Consume(); err != nil {
				logger.Debug("upstream value not ready yet", "iter", iter, "error", err)
			}
		}

		if _, err := resources.Heap.Alloc(stageIndex%heap.NumSubheaps, 64); err != nil {
			logger.Warn("sub-heap exhausted", "stage", stageIndex, "iter", iter, "error", err)
		}

		detector.Issue(iter, txio.TimeVector{iter + 1}, nil)

		if err := resources.OutQueue.Produce(iter); err != nil {
			logger.Debug("downstream queue full", "iter", iter, "error", err)
		}

		misspeculated, err := w.EndIter()
		if err != nil {
			return fmt.Errorf("run: stage %d: %w", stageIndex, err)
		}

		if misspeculated {
			metrics.RecordMisspeculation(ctx, stageIndex)

			reExecute := func(fromIter, toIter uint64) error {
				logger.Info("re-executing", "from", fromIter, "to", toIter)

				for r := fromIter; r <= toIter; r++ {
					detector.Reissue(r, txio.TimeVector{r + 1})
				}

				return nil
			}

			if err := w.DoRecovery(reExecute); err != nil {
				return fmt.Errorf("run: stage %d: %w", stageIndex, err)
			}
		}
	}

	return w.WorkerFinishes()
}

// serveMetrics starts a background HTTP server exposing a Prometheus
// scrape endpoint for deployments that poll the committer directly instead
// of routing through the OTLP exporter.
func serveMetrics(addr string, providers observability.Providers) error {
	handler, err := observability.PrometheusHandler()
	if err != nil {
		return fmt.Errorf("run: building metrics handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			providers.Logger.Warn("metrics server exited", "error", err)
		}
	}()

	providers.Logger.Info("serving metrics", "addr", addr)

	return nil
}
