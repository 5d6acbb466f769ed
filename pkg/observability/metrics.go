package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCriticismsTotal  = "specpriv.critic.criticisms.total"
	metricPlanSpeedup      = "specpriv.critic.plan.speedup"
	metricRemediesApplied  = "specpriv.remedy.applied.total"
	metricMisspecsTotal    = "specpriv.worker.misspeculations.total"
	metricCommitDuration   = "specpriv.worker.commit.duration.seconds"
	metricHeapBytesMapped  = "specpriv.heap.segment.bytes"

	attrPlanKind  = "plan_kind"
	attrFeasible  = "feasible"
	attrRemedy    = "remedy_kind"
	attrStageIdx  = "stage_index"
)

// durationBucketBoundaries covers 1ms to 60s, spanning a single commit step
// up to a slow recovery re-execution.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// RuntimeMetrics holds the OTel instruments for critic passes, remedy
// selections, misspeculations, commit duration and mapped heap bytes. Of
// its Record methods, only RecordMisspeculation has a caller outside this
// package's tests (the run command's worker loop).
type RuntimeMetrics struct {
	criticismsTotal metric.Int64Counter
	planSpeedup     metric.Float64Histogram
	remediesApplied metric.Int64Counter
	misspecsTotal   metric.Int64Counter
	commitDuration  metric.Float64Histogram
	heapBytesMapped metric.Int64UpDownCounter
}

// NewRuntimeMetrics creates the runtime metric instruments from the given meter.
func NewRuntimeMetrics(mt metric.Meter) (*RuntimeMetrics, error) {
	criticisms, err := mt.Int64Counter(metricCriticismsTotal,
		metric.WithDescription("Total critic passes run, by plan kind and feasibility"),
		metric.WithUnit("{criticism}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCriticismsTotal, err)
	}

	speedup, err := mt.Float64Histogram(metricPlanSpeedup,
		metric.WithDescription("Estimated speedup of a feasible plan"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPlanSpeedup, err)
	}

	remedies, err := mt.Int64Counter(metricRemediesApplied,
		metric.WithDescription("Remedies selected for a dependence, by kind"),
		metric.WithUnit("{remedy}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRemediesApplied, err)
	}

	misspecs, err := mt.Int64Counter(metricMisspecsTotal,
		metric.WithDescription("Misspeculations observed, by worker stage"),
		metric.WithUnit("{misspeculation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMisspecsTotal, err)
	}

	commitDur, err := mt.Float64Histogram(metricCommitDuration,
		metric.WithDescription("Per-transaction commit duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommitDuration, err)
	}

	heapBytes, err := mt.Int64UpDownCounter(metricHeapBytesMapped,
		metric.WithDescription("Bytes currently mapped across versioned heap segments"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricHeapBytesMapped, err)
	}

	return &RuntimeMetrics{
		criticismsTotal: criticisms,
		planSpeedup:     speedup,
		remediesApplied: remedies,
		misspecsTotal:   misspecs,
		commitDuration:  commitDur,
		heapBytesMapped: heapBytes,
	}, nil
}

// RecordCriticism records the outcome of one critic pass. Safe to call on a
// nil receiver (no-op), so instrumentation can be threaded through code
// paths that run with or without a configured meter.
func (rm *RuntimeMetrics) RecordCriticism(ctx context.Context, planKind string, feasible bool, speedup float64) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrPlanKind, planKind),
		attribute.Bool(attrFeasible, feasible),
	)
	rm.criticismsTotal.Add(ctx, 1, attrs)

	if feasible {
		rm.planSpeedup.Record(ctx, speedup, metric.WithAttributes(attribute.String(attrPlanKind, planKind)))
	}
}

// RecordRemedy records one remedy selection by kind.
func (rm *RuntimeMetrics) RecordRemedy(ctx context.Context, kind string) {
	if rm == nil {
		return
	}

	rm.remediesApplied.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRemedy, kind)))
}

// RecordMisspeculation records a misspeculation observed on the given stage.
func (rm *RuntimeMetrics) RecordMisspeculation(ctx context.Context, stageIndex int) {
	if rm == nil {
		return
	}

	rm.misspecsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int(attrStageIdx, stageIndex)))
}

// RecordCommit records the wall-clock duration of one committed transaction.
func (rm *RuntimeMetrics) RecordCommit(ctx context.Context, d time.Duration) {
	if rm == nil {
		return
	}

	rm.commitDuration.Record(ctx, d.Seconds())
}

// AdjustHeapBytes adjusts the live mapped-bytes gauge by delta (negative on unmap).
func (rm *RuntimeMetrics) AdjustHeapBytes(ctx context.Context, delta int64) {
	if rm == nil {
		return
	}

	rm.heapBytesMapped.Add(ctx, delta)
}
