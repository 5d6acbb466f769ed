package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liberty-specpriv/specpriv/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.RuntimeMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	rm, err := observability.NewRuntimeMetrics(meter)
	require.NoError(t, err)

	return rm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestRuntimeMetricsRecordCriticism(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)
	ctx := context.Background()

	rm.RecordCriticism(ctx, "DOALL", true, 3.2)

	collected := collectMetrics(t, reader)

	require.NotNil(t, findMetric(collected, "specpriv.critic.criticisms.total"))
	require.NotNil(t, findMetric(collected, "specpriv.critic.plan.speedup"))
}

func TestRuntimeMetricsRecordInfeasibleCriticismSkipsSpeedup(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)
	ctx := context.Background()

	rm.RecordCriticism(ctx, "PS-DSWP", false, 0)

	collected := collectMetrics(t, reader)
	require.NotNil(t, findMetric(collected, "specpriv.critic.criticisms.total"))
}

func TestRuntimeMetricsRecordRemedy(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)

	rm.RecordRemedy(context.Background(), "txio")

	collected := collectMetrics(t, reader)
	require.NotNil(t, findMetric(collected, "specpriv.remedy.applied.total"))
}

func TestRuntimeMetricsRecordMisspeculation(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)

	rm.RecordMisspeculation(context.Background(), 1)

	collected := collectMetrics(t, reader)
	require.NotNil(t, findMetric(collected, "specpriv.worker.misspeculations.total"))
}

func TestRuntimeMetricsRecordCommit(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)

	rm.RecordCommit(context.Background(), 50*time.Millisecond)

	collected := collectMetrics(t, reader)
	require.NotNil(t, findMetric(collected, "specpriv.worker.commit.duration.seconds"))
}

func TestRuntimeMetricsAdjustHeapBytes(t *testing.T) {
	t.Parallel()

	rm, reader := setupTestMeter(t)

	rm.AdjustHeapBytes(context.Background(), 4096)
	rm.AdjustHeapBytes(context.Background(), -1024)

	collected := collectMetrics(t, reader)
	require.NotNil(t, findMetric(collected, "specpriv.heap.segment.bytes"))
}

func TestRuntimeMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var rm *observability.RuntimeMetrics

	assert.NotPanics(t, func() {
		rm.RecordCriticism(context.Background(), "DOALL", true, 1.0)
		rm.RecordRemedy(context.Background(), "txio")
		rm.RecordMisspeculation(context.Background(), 0)
		rm.RecordCommit(context.Background(), time.Millisecond)
		rm.AdjustHeapBytes(context.Background(), 1)
	})
}
